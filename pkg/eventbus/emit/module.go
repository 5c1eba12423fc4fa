package emit

import (
	"github.com/Sokol111/ecommerce-eventbus/pkg/core/config"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewEmitModule provides the Emitter, an IDGenerator seeded with the node id
// and an Invalidator backed by Redis when a client is available.
func NewEmitModule() fx.Option {
	return fx.Module("emit",
		fx.Provide(
			provideIDGenerator,
			provideInvalidator,
			NewEmitter,
		),
	)
}

func provideIDGenerator(conf config.AppConfig) (event.IDGenerator, error) {
	return event.NewIDGenerator(conf.NodeID)
}

type invalidatorParams struct {
	fx.In
	Client goredis.Cmdable `optional:"true"`
	Log    *zap.Logger
}

func provideInvalidator(p invalidatorParams) Invalidator {
	if p.Client == nil {
		p.Log.Info("emit: no redis client, cache invalidation disabled")
		return noopInvalidator{}
	}
	return NewRedisInvalidator(p.Client)
}
