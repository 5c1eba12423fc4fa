package emit

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/Sokol111/ecommerce-eventbus/pkg/observability/tracing"
	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const feedSize = 256

type emitOptions struct {
	scheduledAt time.Time
}

// Option configures Emit.
type Option func(*emitOptions)

// WithScheduledAt delays the first broadcast until t.
func WithScheduledAt(t time.Time) Option {
	return func(o *emitOptions) {
		o.scheduledAt = t
	}
}

// Emitter writes events to the outbox. Delivery happens asynchronously.
type Emitter struct {
	store       outbox.Store
	ids         event.IDGenerator
	tx          persistence.TxManager
	invalidator Invalidator
	metrics     *metrics.Recorder
	feed        chan event.Envelope
	log         *zap.Logger
	now         func() time.Time
}

func NewEmitter(
	store outbox.Store,
	ids event.IDGenerator,
	tx persistence.TxManager,
	invalidator Invalidator,
	recorder *metrics.Recorder,
	log *zap.Logger,
) *Emitter {
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &Emitter{
		store:       store,
		ids:         ids,
		tx:          tx,
		invalidator: invalidator,
		metrics:     recorder,
		feed:        make(chan event.Envelope, feedSize),
		log:         log.With(zap.String("component", "emitter")),
		now:         time.Now,
	}
}

// Emit assigns ids to events and writes them to the outbox in one atomic
// insert. When ctx carries a Mongo transaction the insert joins it, so a
// rollback of the caller discards the events.
func (e *Emitter) Emit(ctx context.Context, events []event.DomainEvent, opts ...Option) error {
	envs, err := e.write(ctx, events, opts)
	if err != nil {
		return err
	}
	e.afterWrite(ctx, envs)
	return nil
}

func (e *Emitter) EmitOne(ctx context.Context, ev event.DomainEvent, opts ...Option) error {
	return e.Emit(ctx, []event.DomainEvent{ev}, opts...)
}

// EmitInTx runs fn and emits the events it returns in one transaction.
// Any failure rolls back both and is reported as ReasonTransactionRollback.
func (e *Emitter) EmitInTx(ctx context.Context, fn func(txCtx context.Context) ([]event.DomainEvent, error), opts ...Option) error {
	result, err := e.tx.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		events, err := fn(txCtx)
		if err != nil {
			return nil, err
		}
		return e.write(txCtx, events, opts)
	})
	if err != nil {
		return event.NewError(event.ReasonTransactionRollback, "emit", err)
	}

	envs, _ := result.([]event.Envelope)
	e.afterWrite(ctx, envs)
	return nil
}

// OnEvent streams emitted envelopes for local introspection. Envelopes are
// dropped while the channel is full.
func (e *Emitter) OnEvent() <-chan event.Envelope {
	return e.feed
}

func (e *Emitter) write(ctx context.Context, events []event.DomainEvent, opts []Option) ([]event.Envelope, error) {
	if len(events) == 0 {
		return nil, nil
	}
	o := &emitOptions{}
	for _, opt := range opts {
		opt(o)
	}

	envs, err := e.envelopes(ctx, events)
	if err != nil {
		return nil, err
	}

	var offerOpts []outbox.OfferOption
	if !o.scheduledAt.IsZero() {
		offerOpts = append(offerOpts, outbox.WithScheduledAt(o.scheduledAt))
	}
	if err := e.store.Offer(ctx, envs, offerOpts...); err != nil {
		return nil, fmt.Errorf("failed to write %d events to outbox: %w", len(envs), err)
	}
	return envs, nil
}

func (e *Emitter) envelopes(ctx context.Context, events []event.DomainEvent) ([]event.Envelope, error) {
	correlationID := event.CorrelationIDFrom(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	causationID := event.CausationIDFrom(ctx)
	traceContext := tracing.InjectContext(ctx)
	emittedAt := e.now().UTC()

	envs := make([]event.Envelope, 0, len(events))
	for i, ev := range events {
		if !ev.EventID.IsZero() {
			return nil, event.NewError(event.ReasonValidationFailed, "emit",
				fmt.Errorf("event %d: id %s is assigned by the emitter", i, ev.EventID))
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}

		ev.EventID = e.ids.Next()
		if ev.CorrelationID == "" {
			ev.CorrelationID = correlationID
		}
		if ev.CausationID == "" {
			ev.CausationID = causationID
		}
		envs = append(envs, event.Envelope{
			EmittedAt:    emittedAt,
			Event:        ev,
			TraceContext: traceContext,
		})
	}
	return envs, nil
}

// afterWrite runs the best-effort side effects of a durable write.
func (e *Emitter) afterWrite(ctx context.Context, envs []event.Envelope) {
	if len(envs) == 0 {
		return
	}

	for _, env := range envs {
		select {
		case e.feed <- env:
		default:
		}
	}

	if err := e.invalidator.Invalidate(ctx, CacheKeys(envs)...); err != nil {
		e.log.Warn("failed to invalidate caches after emit", zap.Error(err))
	}

	for eventType, n := range lo.CountValuesBy(envs, func(env event.Envelope) string { return env.EventType() }) {
		e.metrics.Emitted(ctx, eventType, n)
	}

	e.log.Debug("events emitted",
		zap.Int("count", len(envs)),
		zap.Stringer("firstEventId", envs[0].Event.EventID),
		zap.String("correlationId", envs[0].Event.CorrelationID))
}

// IsRollback reports whether err means nothing was emitted because the
// surrounding transaction was rolled back.
func IsRollback(err error) bool {
	return event.ReasonOf(err) == event.ReasonTransactionRollback
}
