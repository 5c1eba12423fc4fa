package outbox

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// LeaseDuration hides a taken entry from other takers until ack, nack or expiry.
	LeaseDuration time.Duration `mapstructure:"lease-duration"`
	// ShortDelayThreshold lets TakePending return entries due within this
	// window; the worker waits out the rest with a plain timer.
	ShortDelayThreshold time.Duration `mapstructure:"short-delay-threshold"`
	// SentRetention is how long SENT entries are kept before the TTL index removes them.
	SentRetention time.Duration `mapstructure:"sent-retention"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if sub := v.Sub("eventbus.outbox"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load outbox config: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.ShortDelayThreshold <= 0 {
		cfg.ShortDelayThreshold = time.Second
	}
	if cfg.SentRetention <= 0 {
		cfg.SentRetention = 5 * 24 * time.Hour
	}
}

// DefaultConfig returns the configuration used when the section is absent.
func DefaultConfig() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}
