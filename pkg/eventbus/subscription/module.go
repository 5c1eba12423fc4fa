package subscription

import (
	"context"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"github.com/Sokol111/ecommerce-eventbus/pkg/core/worker"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dispatcherComponent = "subscription-dispatcher"

// NewSubscriptionModule provides Config from "eventbus.subscription" and the
// Bus, runs the dispatcher and registers the default logging subscription.
//
// The dispatcher and every subscription started with Start are readiness
// components, so startup recovery only runs once they receive envelopes.
func NewSubscriptionModule() fx.Option {
	return fx.Module("subscription",
		fx.Provide(
			newConfig,
			NewBus,
			worker.Register[*Bus](dispatcherComponent,
				worker.WithRestart(time.Minute),
			),
		),
		fx.Invoke(trackDispatcher),
		worker.Invoke(),
		fx.Invoke(registerLoggingHandler),
	)
}

func trackDispatcher(bus *Bus, components health.ComponentManager) {
	bus.started = components.AddComponent(dispatcherComponent)
}

func registerLoggingHandler(lc fx.Lifecycle, bus *Bus, components health.ComponentManager, readiness health.ReadinessWaiter, log *zap.Logger) error {
	s, err := bus.Subscribe(LoggingHandlerName, event.WildcardEventType, LoggingHandler(log.Named("events")))
	if err != nil {
		return err
	}
	Start(lc, s, components, readiness, log)
	return nil
}

// Start runs s for the lifetime of the application. The node is not ready
// until s accepts deliveries. Deliveries that reach s after shutdown began
// stay unsettled.
func Start(lc fx.Lifecycle, s *Subscription, components health.ComponentManager, readiness health.ReadinessWaiter, log *zap.Logger) {
	name := "subscription-" + s.Name()
	markReady := components.AddComponent(name)
	worker.Start(lc, name, log, readiness, func(ctx context.Context) error {
		return s.run(ctx, markReady)
	}, worker.WithRestart(time.Minute))
	// appended after the worker hook, so it runs first on stop
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			s.hold()
			return nil
		},
	})
}
