package resilience

import "time"

// Config configures a Guard. Every setting applies per name.
type Config struct {
	RateLimit      RateLimitConfig      `mapstructure:"rate-limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit-breaker"`
	Bulkhead       BulkheadConfig       `mapstructure:"bulkhead"`
	// CallTimeout bounds a single guarded call. Zero disables it.
	CallTimeout time.Duration `mapstructure:"call-timeout"`
}

type RateLimitConfig struct {
	// PerSecond is the sustained rate. Zero disables rate limiting.
	PerSecond float64 `mapstructure:"per-second"`
	// Burst defaults to ceil(PerSecond).
	Burst int `mapstructure:"burst"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold uint32        `mapstructure:"failure-threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Interval         time.Duration `mapstructure:"interval"`
	MaxRequests      uint32        `mapstructure:"max-requests"`
}

type BulkheadConfig struct {
	// MaxConcurrent caps in-flight calls. Zero disables the bulkhead.
	MaxConcurrent int `mapstructure:"max-concurrent"`
	// AcquireTimeout bounds the wait for a slot. Zero waits until ctx is done.
	AcquireTimeout time.Duration `mapstructure:"acquire-timeout"`
}

// ApplyDefaults fills zero values of enabled features.
func (c *Config) ApplyDefaults() {
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.PerSecond + 0.999)
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold == 0 {
			c.CircuitBreaker.FailureThreshold = 3
		}
		if c.CircuitBreaker.Timeout == 0 {
			c.CircuitBreaker.Timeout = 30 * time.Second
		}
		if c.CircuitBreaker.MaxRequests == 0 {
			c.CircuitBreaker.MaxRequests = 1
		}
	}
}
