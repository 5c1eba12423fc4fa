package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/logger"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/dedup"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/Sokol111/ecommerce-eventbus/pkg/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrAlreadyRunning is returned by Run while another Run of the same
// subscription is active.
var ErrAlreadyRunning = errors.New("subscription is already running")

// Option configures a Subscription.
type Option func(*Subscription)

// WithFilter drops envelopes for which keep returns false.
func WithFilter(keep func(event.Envelope) bool) Option {
	return func(s *Subscription) {
		s.filter = keep
	}
}

// Subscription is the pipeline of one subscriber. It receives envelopes only
// while Run is active.
type Subscription struct {
	name      string
	eventType string
	category  event.Category
	action    event.Action
	handler   Handler
	filter    func(event.Envelope) bool

	conf        Config
	cache       dedup.Cache
	dedupConf   dedup.Config
	deadLetters outbox.DeadLetterStore
	metrics     *metrics.Recorder
	executor    *retryExecutor
	tracer      trace.Tracer
	log         *zap.Logger
	throttler   *logger.LogThrottler

	mu      sync.Mutex
	in      chan delivery
	done    chan struct{}
	holding bool
}

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) EventType() string { return s.eventType }

// Done is closed when the current or last Run returns.
func (s *Subscription) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Run drives the pipeline until ctx is done. It can be called again after it
// returned. Deliveries still in the pipeline when ctx ends stay unsettled.
func (s *Subscription) Run(ctx context.Context) error {
	return s.run(ctx, nil)
}

// run calls started once the subscription accepts deliveries.
func (s *Subscription) run(ctx context.Context, started func()) error {
	in, done, err := s.start()
	if err != nil {
		return err
	}
	defer s.stop(done)
	if started != nil {
		started()
	}

	s.log.Info("subscription started")
	buffer := newSlidingBuffer(s.conf.BufferSize)
	limiter := rate.NewLimiter(rate.Limit(s.conf.ThrottleRate), max(1, int(s.conf.ThrottleRate)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.debounce(ctx, in, buffer)
		return nil
	})
	g.Go(func() error {
		s.consume(ctx, buffer, limiter)
		return nil
	})
	err = g.Wait()
	s.log.Info("subscription stopped")
	return err
}

func (s *Subscription) start() (chan delivery, chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, s.name)
	}
	select {
	case <-s.done:
		s.done = make(chan struct{})
	default:
	}
	s.in = make(chan delivery, s.conf.MaxBatch)
	return s.in, s.done, nil
}

// hold keeps later deliveries unsettled while the node shuts down, so a
// durable transport redelivers them after restart.
func (s *Subscription) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = true
}

func (s *Subscription) stop(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = nil
	close(done)
}

// offer is the filter stage. Deliveries filtered out or offered while the
// subscription is not running are dropped and settled, unless it is held.
func (s *Subscription) offer(ctx context.Context, d delivery) {
	if !d.env.Matches(s.category, s.action) {
		d.settle()
		return
	}
	if s.filter != nil && !s.filter(d.env) {
		d.settle()
		return
	}

	s.mu.Lock()
	in, done, holding := s.in, s.done, s.holding
	s.mu.Unlock()
	if holding {
		return
	}
	if in == nil {
		d.settle()
		return
	}

	select {
	case in <- d:
	case <-done:
		s.mu.Lock()
		holding = s.holding
		s.mu.Unlock()
		if !holding {
			d.settle()
		}
	case <-ctx.Done():
	}
}

// debounce collects bursts until the input is quiet for conf.Debounce or
// the burst reaches conf.MaxBatch, then pushes it into the buffer.
func (s *Subscription) debounce(ctx context.Context, in <-chan delivery, buffer *slidingBuffer) {
	timer := time.NewTimer(s.conf.Debounce)
	timer.Stop()
	defer timer.Stop()

	batch := make([]delivery, 0, s.conf.MaxBatch)
	flush := func() {
		if dropped := buffer.PushAll(batch); len(dropped) > 0 {
			for _, d := range dropped {
				d.settle()
			}
			s.throttler.Warn("overflow", "subscription buffer full, dropped oldest envelopes",
				zap.Int("dropped", len(dropped)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-in:
			batch = append(batch, d)
			if len(batch) >= s.conf.MaxBatch {
				timer.Stop()
				flush()
				continue
			}
			timer.Reset(s.conf.Debounce)
		case <-timer.C:
			flush()
		}
	}
}

func (s *Subscription) consume(ctx context.Context, buffer *slidingBuffer, limiter *rate.Limiter) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-buffer.Ready():
		}

		for _, d := range dedupeAdjacent(buffer.Drain()) {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if s.processEnvelope(ctx, d.env) {
				d.settle()
			}
		}
	}
}

// processEnvelope runs the handler at most once per event id within the
// dedup window, retrying retryable failures. It reports false when shutdown
// interrupted handling, so the envelope must be delivered again.
func (s *Subscription) processEnvelope(ctx context.Context, env event.Envelope) bool {
	eventType := env.EventType()
	key := dedup.Key{Scope: s.name, EventID: env.Event.EventID}
	log := s.log.With(zap.Stringer("eventId", env.Event.EventID), zap.String("eventType", eventType))

	if outcome, found, _ := s.cache.Get(ctx, key); found {
		log.Debug("duplicate delivery skipped", zap.String("outcome", string(outcome)))
		s.metrics.DuplicateSkipped(ctx, eventType)
		return true
	}

	ctx = tracing.ExtractContext(ctx, env.TraceContext)
	ctx, span := s.tracer.Start(ctx, "eventbus.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("eventbus.subscriber", s.name),
			attribute.String("eventbus.event_type", eventType),
			attribute.String("messaging.message.id", env.Event.EventID.String()),
		),
	)
	defer span.End()

	ctx = event.WithIdempotencyKey(ctx, env.Event.IdempotencyKey())
	ctx = event.WithCausationID(ctx, env.Event.EventID.String())
	if env.Event.CorrelationID != "" {
		ctx = event.WithCorrelationID(ctx, env.Event.CorrelationID)
	}
	ctx = logger.With(ctx, log.With(tracing.LogFields(ctx)...))

	res := s.executor.Execute(ctx, func(ctx context.Context) error {
		return s.handler.Handle(ctx, env)
	})

	// Store writes must land even when shutdown cancels ctx.
	storeCtx := context.WithoutCancel(ctx)
	switch {
	case res.Err == nil:
		span.SetStatus(codes.Ok, "handled")
		if err := s.cache.Set(storeCtx, key, dedup.OutcomeSucceeded, s.dedupConf.TTL(dedup.OutcomeSucceeded)); err != nil {
			log.Warn("failed to mark event as handled", zap.Error(err))
		}
	case res.Cancelled:
		span.SetStatus(codes.Error, "cancelled")
		log.Info("handling cancelled by shutdown", zap.Int("attempts", res.Attempts))
		return false
	default:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "dead-lettered")
		s.deadLetter(storeCtx, log, env, res)
	}
	return true
}

func (s *Subscription) deadLetter(ctx context.Context, log *zap.Logger, env event.Envelope, res result) {
	reason := event.ReasonOf(res.Err)
	payload, err := event.Encode(env)
	if err != nil {
		log.Warn("failed to encode dead-lettered envelope", zap.Error(err))
	}

	record := outbox.DeadLetterRecord{
		Source:       outbox.SourceEvent,
		SourceID:     env.Event.EventID.String(),
		Type:         env.EventType(),
		Subscriber:   s.name,
		Payload:      payload,
		Attempts:     res.Attempts,
		ErrorReason:  string(reason),
		ErrorHistory: res.History,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.deadLetters.Insert(ctx, record); err != nil {
		log.Error("failed to write dead-letter record", zap.Error(err))
	}
	if err := s.cache.Set(ctx, dedup.Key{Scope: s.name, EventID: env.Event.EventID}, dedup.OutcomeFailed, s.dedupConf.TTL(dedup.OutcomeFailed)); err != nil {
		log.Warn("failed to mark event as failed", zap.Error(err))
	}
	s.metrics.DeadLettered(ctx, env.EventType())
	log.Error("event dead-lettered",
		zap.String("reason", string(reason)),
		zap.Int("attempts", res.Attempts),
		zap.Error(res.Err))
}

func newTracer() trace.Tracer {
	return otel.Tracer("eventbus.subscription")
}
