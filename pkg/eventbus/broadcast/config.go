package broadcast

import (
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/resilience"
	"github.com/spf13/viper"
)

type Config struct {
	BatchSize int `mapstructure:"batch-size"`
	// Concurrency bounds how many leases of one batch are in flight.
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll-interval"`
	ErrorInterval time.Duration `mapstructure:"error-interval"`
	MaxAttempts   int           `mapstructure:"max-attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff-base"`
	MaxBackoff    time.Duration `mapstructure:"max-backoff"`
	// Resilience is applied per event category around every send.
	Resilience resilience.Config `mapstructure:"resilience"`
}

// KafkaConfig is the "kafka" section used by the kafka transport.
type KafkaConfig struct {
	Brokers         string        `mapstructure:"brokers"`
	TopicPrefix     string        `mapstructure:"topic-prefix"`
	GroupPrefix     string        `mapstructure:"group-prefix"`
	AutoOffsetReset string        `mapstructure:"auto-offset-reset"`
	DeliveryTimeout time.Duration `mapstructure:"delivery-timeout"`
	// ReadinessTimeout bounds the wait for brokers on start. Zero waits until the start timeout.
	ReadinessTimeout time.Duration `mapstructure:"readiness-timeout"`
	PollTimeout      time.Duration `mapstructure:"poll-timeout"`
}

func newConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if sub := v.Sub("eventbus.broadcast"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load broadcast config: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.ErrorInterval <= 0 {
		cfg.ErrorInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Minute
	}

	r := &cfg.Resilience
	if r.RateLimit.PerSecond == 0 {
		r.RateLimit.PerSecond = 100
	}
	r.CircuitBreaker.Enabled = true
	if r.Bulkhead.MaxConcurrent == 0 {
		r.Bulkhead.MaxConcurrent = 5
	}
	if r.CallTimeout == 0 {
		r.CallTimeout = 5 * time.Second
	}
	r.ApplyDefaults()
}

func newKafkaConfig(v *viper.Viper) (KafkaConfig, error) {
	var cfg KafkaConfig
	sub := v.Sub("kafka")
	if sub == nil {
		return cfg, fmt.Errorf("failed to load kafka config: section 'kafka' is missing")
	}
	if err := sub.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to load kafka config: %w", err)
	}
	applyKafkaDefaults(&cfg)
	if cfg.Brokers == "" {
		return cfg, fmt.Errorf("kafka.brokers is required")
	}
	return cfg, nil
}

func applyKafkaDefaults(cfg *KafkaConfig) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "eventbus"
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "eventbus"
	}
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "latest"
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
}
