// Package eventbus wires the event bus of a node: emission into the outbox,
// cluster broadcast, local subscriptions and startup recovery.
//
// Usage:
//
//	fx.New(
//	    core.NewCoreModule(),
//	    modules.NewPersistenceModule(),
//	    modules.NewObservabilityModule(),
//	    eventbus.NewEventBusModule(),
//	    fx.Invoke(func(bus *subscription.Bus) { ... }),
//	)
//
// The module expects a mongo.Mongo, a persistence.TxManager and a
// metric.MeterProvider. A redis.Cmdable is used when present.
package eventbus

import (
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/broadcast"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/cluster"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/dedup"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/emit"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/recovery"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/subscription"
	"go.uber.org/fx"
)

type busOptions struct {
	withoutRecovery bool
}

// Option configures NewEventBusModule.
type Option func(*busOptions)

// WithoutRecovery skips startup recovery. The node is still marked ready
// for traffic on start.
func WithoutRecovery() Option {
	return func(o *busOptions) {
		o.withoutRecovery = true
	}
}

// NewEventBusModule provides the Emitter, the subscription Bus and the
// background workers that move events from the outbox to subscribers.
func NewEventBusModule(opts ...Option) fx.Option {
	o := &busOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return fx.Module("eventbus",
		metrics.NewRecorderModule(),
		dedup.NewDedupModule(),
		cluster.NewClusterModule(),
		outbox.NewOutboxModule(),
		broadcast.NewBroadcastModule(),
		subscription.NewSubscriptionModule(),
		emit.NewEmitModule(),
		recoveryModule(o),
	)
}

func recoveryModule(o *busOptions) fx.Option {
	if o.withoutRecovery {
		return recovery.NewTrafficReadyModule()
	}
	return recovery.NewRecoveryModule()
}
