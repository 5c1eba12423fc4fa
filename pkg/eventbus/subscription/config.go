package subscription

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// BufferSize is the capacity of each subscription's sliding buffer.
	BufferSize int `mapstructure:"buffer-size"`
	// Debounce is the quiet period that closes a burst.
	Debounce time.Duration `mapstructure:"debounce"`
	// MaxBatch flushes a burst early once it holds this many envelopes.
	MaxBatch int `mapstructure:"max-batch"`
	// ThrottleRate is the per-subscription handler rate, per second.
	ThrottleRate float64 `mapstructure:"throttle-rate"`
	MaxAttempts  int     `mapstructure:"max-attempts"`
	// BaseTimeout bounds attempt n (0-based) to BaseTimeout*(n+1).
	BaseTimeout  time.Duration `mapstructure:"base-timeout"`
	RetryBackoff time.Duration `mapstructure:"retry-backoff"`
	MaxBackoff   time.Duration `mapstructure:"max-backoff"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if sub := v.Sub("eventbus.subscription"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load subscription config: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 10 * time.Millisecond
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.ThrottleRate <= 0 {
		cfg.ThrottleRate = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
}
