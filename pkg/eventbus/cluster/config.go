package cluster

import (
	"fmt"

	"github.com/spf13/viper"
)

// Transport selects how envelopes travel between nodes.
type Transport string

const (
	TransportLocal Transport = "local"
	TransportKafka Transport = "kafka"
)

const defaultShardCount = 16

type Config struct {
	Transport  Transport `mapstructure:"transport"`
	ShardCount int       `mapstructure:"shard-count"`
	// OwnedShards lists the shards this node recovers on startup.
	// Empty means all shards, which suits a single node.
	OwnedShards []int `mapstructure:"owned-shards"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if sub := v.Sub("eventbus.cluster"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load cluster config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Transport == "" {
		cfg.Transport = TransportLocal
	}
	if cfg.ShardCount == 0 {
		cfg.ShardCount = defaultShardCount
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Transport {
	case TransportLocal, TransportKafka:
	default:
		return fmt.Errorf("unknown cluster transport %q", cfg.Transport)
	}
	if cfg.ShardCount < 1 {
		return fmt.Errorf("shard-count must be positive, got %d", cfg.ShardCount)
	}
	for _, s := range cfg.OwnedShards {
		if s < 0 || s >= cfg.ShardCount {
			return fmt.Errorf("owned shard %d is outside [0, %d)", s, cfg.ShardCount)
		}
	}
	return nil
}
