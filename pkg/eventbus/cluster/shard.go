package cluster

import (
	"context"
	"hash/fnv"

	"github.com/samber/lo"
)

// Sharder maps aggregate ids to shards.
type Sharder struct {
	count int
}

func NewSharder(conf Config) Sharder {
	return Sharder{count: conf.ShardCount}
}

// ShardOf returns fnv32a(aggregateID) mod shard count.
func (s Sharder) ShardOf(aggregateID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(s.count))
}

// ShardResolver lists the shards owned by this node.
type ShardResolver interface {
	AssignedShardIDs(ctx context.Context) ([]int, error)
}

type staticResolver struct {
	shards []int
}

// NewStaticResolver owns the configured shards, or every shard when none are listed.
func NewStaticResolver(conf Config) ShardResolver {
	if len(conf.OwnedShards) > 0 {
		return &staticResolver{shards: lo.Uniq(conf.OwnedShards)}
	}
	return &staticResolver{shards: lo.Range(conf.ShardCount)}
}

func (r *staticResolver) AssignedShardIDs(context.Context) ([]int, error) {
	return r.shards, nil
}
