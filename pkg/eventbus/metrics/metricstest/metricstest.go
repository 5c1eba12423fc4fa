// Package metricstest records bus counters in memory for assertions.
package metricstest

import (
	"context"
	"testing"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Reader reads counter values back from a Recorder made by New.
type Reader struct {
	t      testing.TB
	reader *sdkmetric.ManualReader
}

// New returns a Recorder backed by an in-memory reader.
func New(t testing.TB) (*metrics.Recorder, *Reader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	r, err := metrics.NewRecorder(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	return r, &Reader{t: t, reader: reader}
}

// Count returns the value of counter name for eventType, or 0 if never recorded.
func (r *Reader) Count(name, eventType string) int64 {
	r.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(r.t, r.reader.Collect(context.Background(), &rm))

	want := attribute.NewSet(attribute.String("event_type", eventType))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					return dp.Value
				}
			}
		}
	}
	return 0
}
