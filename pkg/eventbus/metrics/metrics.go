package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	meterName = "github.com/Sokol111/ecommerce-eventbus/eventbus"

	attrEventType = "event_type"
)

// Counter names.
const (
	CounterEmitted           = "eventbus.emitted"
	CounterProcessed         = "eventbus.processed"
	CounterDuplicatesSkipped = "eventbus.duplicates_skipped"
	CounterDeadLettered      = "eventbus.dead_lettered"
)

// Recorder holds the bus counters. All counters only ever increase.
type Recorder struct {
	emitted           metric.Int64Counter
	processed         metric.Int64Counter
	duplicatesSkipped metric.Int64Counter
	deadLettered      metric.Int64Counter
}

// NewRecorder creates the counters on provider's meter.
func NewRecorder(provider metric.MeterProvider) (*Recorder, error) {
	meter := provider.Meter(meterName)

	emitted, err := meter.Int64Counter(CounterEmitted,
		metric.WithDescription("Events written to the outbox"),
	)
	if err != nil {
		return nil, err
	}

	processed, err := meter.Int64Counter(CounterProcessed,
		metric.WithDescription("Envelopes broadcast to the cluster"),
	)
	if err != nil {
		return nil, err
	}

	duplicatesSkipped, err := meter.Int64Counter(CounterDuplicatesSkipped,
		metric.WithDescription("Deliveries skipped because the event was already handled"),
	)
	if err != nil {
		return nil, err
	}

	deadLettered, err := meter.Int64Counter(CounterDeadLettered,
		metric.WithDescription("Envelopes moved to the dead-letter store"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		emitted:           emitted,
		processed:         processed,
		duplicatesSkipped: duplicatesSkipped,
		deadLettered:      deadLettered,
	}, nil
}

// NewNoopRecorder returns a Recorder that records nothing.
func NewNoopRecorder() *Recorder {
	r, _ := NewRecorder(noop.NewMeterProvider())
	return r
}

func (r *Recorder) Emitted(ctx context.Context, eventType string, n int) {
	r.emitted.Add(ctx, int64(n), withEventType(eventType))
}

func (r *Recorder) Processed(ctx context.Context, eventType string) {
	r.processed.Add(ctx, 1, withEventType(eventType))
}

func (r *Recorder) DuplicateSkipped(ctx context.Context, eventType string) {
	r.duplicatesSkipped.Add(ctx, 1, withEventType(eventType))
}

func (r *Recorder) DeadLettered(ctx context.Context, eventType string) {
	r.deadLettered.Add(ctx, 1, withEventType(eventType))
}

func withEventType(eventType string) metric.AddOption {
	return metric.WithAttributes(attribute.String(attrEventType, eventType))
}
