package metrics

import (
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
)

// NewRecorderModule provides a Recorder on the application's MeterProvider.
func NewRecorderModule() fx.Option {
	return fx.Provide(func(provider metric.MeterProvider) (*Recorder, error) {
		return NewRecorder(provider)
	})
}
