package recovery

import (
	"context"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRecoveryModule runs recovery once every component is ready and then
// marks the node ready for traffic, which releases the broadcast worker and
// subscriptions.
func NewRecoveryModule() fx.Option {
	return fx.Module("recovery",
		fx.Provide(NewRecovery),
		fx.Invoke(func(lc fx.Lifecycle, r *Recovery, readiness health.ReadinessWaiter, traffic health.TrafficController, log *zap.Logger) {
			registerStartup(lc, readiness, traffic, log, r.RunBestEffort)
		}),
	)
}

// NewTrafficReadyModule marks the node ready for traffic once every
// component is ready, without running recovery.
func NewTrafficReadyModule() fx.Option {
	return fx.Module("recovery",
		fx.Invoke(func(lc fx.Lifecycle, readiness health.ReadinessWaiter, traffic health.TrafficController, log *zap.Logger) {
			registerStartup(lc, readiness, traffic, log, func(context.Context) {})
		}),
	)
}

func registerStartup(lc fx.Lifecycle, readiness health.ReadinessWaiter, traffic health.TrafficController, log *zap.Logger, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := readiness.WaitReady(ctx); err != nil {
					log.Info("startup aborted before components were ready")
					return
				}
				run(ctx)
				traffic.MarkTrafficReady()
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
