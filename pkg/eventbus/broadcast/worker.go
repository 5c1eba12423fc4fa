package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/logger"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/dedup"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/Sokol111/ecommerce-eventbus/pkg/resilience"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DedupScope is the dedup scope of envelopes already broadcast.
const DedupScope = "broadcast"

// Worker drains the outbox into the Broadcaster.
type Worker struct {
	store       outbox.Store
	deadLetters outbox.DeadLetterStore
	broadcaster Broadcaster
	cache       dedup.Cache
	dedupConf   dedup.Config
	guard       *resilience.Guard
	metrics     *metrics.Recorder
	conf        Config
	log         *zap.Logger
	throttler   *logger.LogThrottler
	now         func() time.Time
}

func NewWorker(
	store outbox.Store,
	deadLetters outbox.DeadLetterStore,
	broadcaster Broadcaster,
	cache dedup.Cache,
	dedupConf dedup.Config,
	recorder *metrics.Recorder,
	conf Config,
	log *zap.Logger,
) *Worker {
	applyDefaults(&conf)
	log = log.With(zap.String("component", "broadcast-worker"))
	return &Worker{
		store:       store,
		deadLetters: deadLetters,
		broadcaster: broadcaster,
		cache:       cache,
		dedupConf:   dedupConf,
		guard:       resilience.NewGuard(conf.Resilience, log, resilience.WithSuccessClassifier(isBreakerSuccess)),
		metrics:     recorder,
		conf:        conf,
		log:         log,
		throttler:   logger.NewLogThrottler(log, time.Minute),
		now:         time.Now,
	}
}

// isBreakerSuccess keeps terminal errors from tripping the breaker: they
// describe the envelope, not the transport.
func isBreakerSuccess(err error) bool {
	return err == nil || !event.Retryable(err)
}

// Run takes batches until ctx is done. Store errors never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		leases, err := w.store.TakePending(ctx, w.conf.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.throttler.Warn("take", "failed to take pending envelopes", zap.Error(err))
			sleep(ctx, w.conf.ErrorInterval)
			continue
		}
		w.throttler.Reset("take")

		if len(leases) == 0 {
			sleep(ctx, w.conf.PollInterval)
			continue
		}
		w.processBatch(ctx, leases)
	}
	return nil
}

func (w *Worker) processBatch(ctx context.Context, leases []outbox.Lease) {
	var g errgroup.Group
	g.SetLimit(w.conf.Concurrency)
	for _, lease := range leases {
		g.Go(func() error {
			w.processLease(ctx, lease)
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) processLease(ctx context.Context, lease outbox.Lease) {
	// Store updates must land even when shutdown cancels ctx mid-send.
	storeCtx := context.WithoutCancel(ctx)
	log := w.log.With(
		zap.String("eventId", lease.EventID),
		zap.String("eventType", lease.EventType),
		zap.Int("attempts", lease.Attempts),
	)

	if lease.DecodeErr != nil {
		w.deadLetter(storeCtx, log, lease, event.ReasonDeserializationFailed, lease.DecodeErr)
		return
	}
	if lease.DeadLetterReason != "" {
		// cause is already in the history
		w.deadLetter(storeCtx, log, lease, lease.DeadLetterReason, nil)
		return
	}

	env := lease.Envelope
	key := dedup.Key{Scope: DedupScope, EventID: env.Event.EventID}
	if outcome, found, _ := w.cache.Get(ctx, key); found && outcome == dedup.OutcomeSucceeded {
		log.Debug("envelope already broadcast, acking")
		w.ack(storeCtx, log, lease)
		return
	}

	category := string(env.Event.Category())
	if err := w.guard.Wait(ctx, category); err != nil {
		w.release(storeCtx, log, lease, w.now())
		return
	}

	if lease.Attempts > 1 {
		if wait := lease.NextAttemptAfter.Sub(w.now()); wait > 0 && !sleep(ctx, wait) {
			w.release(storeCtx, log, lease, lease.NextAttemptAfter)
			return
		}
	}

	err := w.guard.Execute(ctx, category, func(ctx context.Context) error {
		return w.broadcaster.Send(ctx, env)
	})

	switch {
	case err == nil:
		w.ack(storeCtx, log, lease)
		if err := w.cache.Set(storeCtx, key, dedup.OutcomeSucceeded, w.dedupConf.TTL(dedup.OutcomeSucceeded)); err != nil {
			log.Warn("failed to mark envelope as broadcast", zap.Error(err))
		}
		w.metrics.Processed(storeCtx, lease.EventType)

	case errors.Is(err, resilience.ErrCircuitOpen):
		log.Debug("circuit open, releasing lease", zap.String("category", category))
		w.release(storeCtx, log, lease, w.now().Add(w.conf.Resilience.CircuitBreaker.Timeout))

	case errors.Is(err, resilience.ErrBulkheadFull), ctx.Err() != nil:
		w.release(storeCtx, log, lease, w.now())

	case !event.Retryable(err):
		w.deadLetter(storeCtx, log, lease, event.ReasonOf(err), err)

	case lease.Attempts >= w.conf.MaxAttempts:
		w.deadLetter(storeCtx, log, lease, event.ReasonMaxRetries, err)

	default:
		notBefore := w.now().Add(w.backoff(lease.Attempts))
		log.Warn("broadcast failed, retrying", zap.Error(err), zap.Time("notBefore", notBefore))
		if err := w.store.Nack(storeCtx, lease.ID, err, notBefore); err != nil {
			log.Error("failed to nack lease", zap.Error(err))
		}
	}
}

// backoff returns BackoffBase*2^attempts capped by MaxBackoff: the wait
// before attempt number attempts+1.
func (w *Worker) backoff(attempts int) time.Duration {
	d := w.conf.BackoffBase
	for range attempts {
		d *= 2
		if d >= w.conf.MaxBackoff {
			return w.conf.MaxBackoff
		}
	}
	return min(d, w.conf.MaxBackoff)
}

func (w *Worker) ack(ctx context.Context, log *zap.Logger, lease outbox.Lease) {
	if err := w.store.Ack(ctx, lease.ID); err != nil {
		log.Error("failed to ack lease", zap.Error(err))
	}
}

func (w *Worker) release(ctx context.Context, log *zap.Logger, lease outbox.Lease, notBefore time.Time) {
	if err := w.store.Release(ctx, lease.ID, notBefore); err != nil {
		log.Error("failed to release lease", zap.Error(err))
	}
}

func (w *Worker) deadLetter(ctx context.Context, log *zap.Logger, lease outbox.Lease, reason event.Reason, cause error) {
	now := w.now()
	history := append([]outbox.ErrorEntry(nil), lease.ErrorHistory...)
	if cause != nil {
		history = append(history, outbox.NewErrorEntry(cause, now))
	}

	record := outbox.DeadLetterRecord{
		Source:       outbox.SourceEvent,
		SourceID:     lease.EventID,
		Type:         lease.EventType,
		Subscriber:   DedupScope,
		Payload:      lease.Payload,
		Attempts:     lease.Attempts,
		ErrorReason:  string(reason),
		ErrorHistory: history,
		CreatedAt:    now.UTC(),
	}
	if err := w.deadLetters.Insert(ctx, record); err != nil {
		log.Error("failed to write dead-letter record, retrying later", zap.Error(err))
		if err := w.store.MarkExhausted(ctx, lease.ID, reason, cause, now.Add(w.conf.ErrorInterval)); err != nil {
			log.Error("failed to mark lease exhausted", zap.Error(err))
		}
		return
	}
	if err := w.store.MarkDeadLettered(ctx, lease.ID, cause); err != nil {
		log.Error("failed to mark lease dead-lettered", zap.Error(err))
	}
	w.metrics.DeadLettered(ctx, lease.EventType)
	log.Error("envelope dead-lettered", zap.String("reason", string(reason)), zap.Error(cause))
}
