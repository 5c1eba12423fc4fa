package cluster

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharder_ShardOf(t *testing.T) {
	s := NewSharder(Config{ShardCount: 8})

	t.Run("stable and in range", func(t *testing.T) {
		for _, id := range []string{"order-1", "order-2", "user-42", ""} {
			shard := s.ShardOf(id)
			assert.GreaterOrEqual(t, shard, 0)
			assert.Less(t, shard, 8)
			assert.Equal(t, shard, s.ShardOf(id))
		}
	})

	t.Run("fnv32a value", func(t *testing.T) {
		// fnv32a("a") = 0xe40c292c
		assert.Equal(t, int(uint32(0xe40c292c)%8), s.ShardOf("a"))
	})
}

func TestStaticResolver(t *testing.T) {
	t.Run("all shards by default", func(t *testing.T) {
		ids, err := NewStaticResolver(Config{ShardCount: 4}).AssignedShardIDs(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, ids)
	})

	t.Run("owned shards deduplicated", func(t *testing.T) {
		ids, err := NewStaticResolver(Config{ShardCount: 4, OwnedShards: []int{2, 1, 2}}).AssignedShardIDs(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []int{2, 1}, ids)
	})
}

func TestNewConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := newConfig(viper.New())

		require.NoError(t, err)
		assert.Equal(t, TransportLocal, cfg.Transport)
		assert.Equal(t, 16, cfg.ShardCount)
	})

	t.Run("rejects unknown transport", func(t *testing.T) {
		v := viper.New()
		v.Set("eventbus.cluster.transport", "carrier-pigeon")

		_, err := newConfig(v)

		assert.ErrorContains(t, err, "unknown cluster transport")
	})

	t.Run("rejects owned shard out of range", func(t *testing.T) {
		v := viper.New()
		v.Set("eventbus.cluster.shard-count", 2)
		v.Set("eventbus.cluster.owned-shards", []int{0, 5})

		_, err := newConfig(v)

		assert.ErrorContains(t, err, "owned shard 5")
	})
}
