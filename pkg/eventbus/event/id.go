package event

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator hands out time-ordered ids unique across nodes with distinct node ids.
type IDGenerator interface {
	Next() ID
}

type snowflakeGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a Snowflake generator for nodeID in [0, 1023].
func NewIDGenerator(nodeID int64) (IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id generator for node %d: %w", nodeID, err)
	}
	return &snowflakeGenerator{node: node}, nil
}

// Next is safe for concurrent use. Ids from one generator strictly increase.
func (g *snowflakeGenerator) Next() ID {
	return ID(g.node.Generate())
}
