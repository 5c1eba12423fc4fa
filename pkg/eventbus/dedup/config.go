package dedup

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultSuccessTTL = 24 * time.Hour
	defaultFailureTTL = 5 * time.Minute
	defaultHotSize    = 10_000
	defaultHotTTL     = 5 * time.Minute
)

type Config struct {
	SuccessTTL time.Duration `mapstructure:"success-ttl"`
	FailureTTL time.Duration `mapstructure:"failure-ttl"`
	// HotSize bounds the in-memory tier.
	HotSize int `mapstructure:"hot-size"`
	// HotTTL caps how long an entry stays in the in-memory tier.
	HotTTL time.Duration `mapstructure:"hot-ttl"`
	// DisableCold keeps the cache in memory only.
	DisableCold bool `mapstructure:"disable-cold"`
}

// TTL returns the retention for outcome.
func (c Config) TTL(outcome Outcome) time.Duration {
	if outcome == OutcomeSucceeded {
		return c.SuccessTTL
	}
	return c.FailureTTL
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if sub := v.Sub("eventbus.dedup"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load dedup config: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SuccessTTL == 0 {
		cfg.SuccessTTL = defaultSuccessTTL
	}
	if cfg.FailureTTL == 0 {
		cfg.FailureTTL = defaultFailureTTL
	}
	if cfg.HotSize == 0 {
		cfg.HotSize = defaultHotSize
	}
	if cfg.HotTTL == 0 {
		cfg.HotTTL = defaultHotTTL
	}
}
