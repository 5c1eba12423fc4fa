package outbox

import (
	"context"
	"fmt"

	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewOutboxModule provides Config from "eventbus.outbox", the Store and the
// DeadLetterStore. Indexes are created on start.
func NewOutboxModule() fx.Option {
	return fx.Module("outbox",
		fx.Provide(
			newConfig,
			fx.Annotate(newStore, fx.As(new(Store))),
			fx.Annotate(newDeadLetterStore, fx.As(new(DeadLetterStore))),
		),
		fx.Invoke(registerIndexes),
	)
}

func registerIndexes(lc fx.Lifecycle, m mongo.Mongo, conf Config, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := EnsureIndexes(ctx, m, conf); err != nil {
				return fmt.Errorf("failed to ensure outbox indexes: %w", err)
			}
			log.Info("outbox indexes ensured")
			return nil
		},
	})
}
