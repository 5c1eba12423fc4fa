// Package observability wires OpenTelemetry tracing and metrics.
//
// Usage:
//
//	observability.NewObservabilityModule()
//
//	// Tests
//	observability.NewObservabilityModule(
//	    observability.WithoutTracing(),
//	    observability.WithoutMetrics(),
//	)
package observability

import (
	"github.com/Sokol111/ecommerce-eventbus/pkg/observability/config"
	"github.com/Sokol111/ecommerce-eventbus/pkg/observability/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/observability/tracing"
	"go.uber.org/fx"
)

type observabilityOptions struct {
	configOptions []config.Option
}

// Option is a functional option for configuring the observability module.
type Option func(*observabilityOptions)

// WithConfig provides a static observability Config.
func WithConfig(cfg config.Config) Option {
	return func(opts *observabilityOptions) {
		opts.configOptions = append(opts.configOptions, config.WithConfig(cfg))
	}
}

// WithoutTracing disables tracing regardless of configuration.
func WithoutTracing() Option {
	return func(opts *observabilityOptions) {
		opts.configOptions = append(opts.configOptions, config.WithDisableTracing())
	}
}

// WithoutMetrics disables metrics regardless of configuration.
func WithoutMetrics() Option {
	return func(opts *observabilityOptions) {
		opts.configOptions = append(opts.configOptions, config.WithDisableMetrics())
	}
}

// NewObservabilityModule provides tracing and metrics.
func NewObservabilityModule(opts ...Option) fx.Option {
	cfg := &observabilityOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	return fx.Options(
		config.NewObservabilityConfigModule(cfg.configOptions...),
		tracing.NewTracingModule(),
		metrics.NewMetricsModule(),
	)
}
