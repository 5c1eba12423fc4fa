package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/logger"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/broadcast"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/dedup"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Bus registers subscriptions and dispatches broadcast envelopes to them.
type Bus struct {
	broadcaster broadcast.Broadcaster
	cache       dedup.Cache
	dedupConf   dedup.Config
	deadLetters outbox.DeadLetterStore
	metrics     *metrics.Recorder
	conf        Config
	log         *zap.Logger

	// started is called once the dispatcher listens to the broadcaster.
	started func()

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
}

func NewBus(
	broadcaster broadcast.Broadcaster,
	cache dedup.Cache,
	dedupConf dedup.Config,
	deadLetters outbox.DeadLetterStore,
	recorder *metrics.Recorder,
	conf Config,
	log *zap.Logger,
) *Bus {
	applyDefaults(&conf)
	return &Bus{
		broadcaster:   broadcaster,
		cache:         cache,
		dedupConf:     dedupConf,
		deadLetters:   deadLetters,
		metrics:       recorder,
		conf:          conf,
		log:           log.With(zap.String("component", "subscription")),
		subscriptions: make(map[string]*Subscription),
	}
}

// Subscribe registers handler under name for eventType ("order.placed",
// "order" or "*"). The name scopes deduplication and dead letters, so it
// must be unique and stable across restarts.
func (b *Bus) Subscribe(name, eventType string, handler Handler, opts ...Option) (*Subscription, error) {
	if handler == nil {
		return nil, event.NewError(event.ReasonHandlerMissing, "subscribe", fmt.Errorf("no handler for subscription %q", name))
	}
	if name == "" {
		return nil, event.NewError(event.ReasonValidationFailed, "subscribe", errors.New("subscription name is required"))
	}
	category, action, err := event.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}

	log := b.log.With(zap.String("subscriber", name), zap.String("eventType", eventType))
	s := &Subscription{
		name:        name,
		eventType:   eventType,
		category:    category,
		action:      action,
		handler:     handler,
		conf:        b.conf,
		cache:       b.cache,
		dedupConf:   b.dedupConf,
		deadLetters: b.deadLetters,
		metrics:     b.metrics,
		executor:    newRetryExecutor(b.conf, log),
		tracer:      newTracer(),
		log:         log,
		throttler:   logger.NewLogThrottler(log, time.Minute),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.subscriptions[name]; exists {
		return nil, event.NewError(event.ReasonValidationFailed, "subscribe", fmt.Errorf("subscription %q already exists", name))
	}
	b.subscriptions[name] = s
	b.log.Info("subscription registered", zap.String("subscriber", name), zap.String("eventType", eventType))
	return s, nil
}

// Unsubscribe removes the subscription. A running pipeline keeps draining
// what it already buffered until its ctx is done.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, name)
}

func (b *Bus) Subscriptions() []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lo.Values(b.subscriptions)
}

// Run reads the broadcaster and hands every envelope to all subscriptions.
func (b *Bus) Run(ctx context.Context) error {
	deliveries, err := b.broadcaster.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to broadcaster: %w", err)
	}
	b.log.Info("dispatcher started")
	if b.started != nil {
		b.started()
	}

	for d := range deliveries {
		b.dispatch(ctx, d)
	}

	if ctx.Err() == nil {
		return errors.New("broadcast stream closed")
	}
	return nil
}

// dispatch offers d to every subscription and settles it once each of them
// settled its copy. A copy abandoned by shutdown keeps d unsettled.
func (b *Bus) dispatch(ctx context.Context, d broadcast.Delivery) {
	subs := b.Subscriptions()
	var pending atomic.Int64
	pending.Store(int64(len(subs)) + 1)
	release := func() {
		if pending.Add(-1) == 0 {
			d.Settle()
		}
	}
	for _, s := range subs {
		s.offer(ctx, delivery{env: d.Envelope, settle: sync.OnceFunc(release)})
	}
	release()
}
