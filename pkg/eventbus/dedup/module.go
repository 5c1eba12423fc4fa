package dedup

import (
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type cacheParams struct {
	fx.In
	Conf Config
	Log  *zap.Logger
	Cold goredis.Cmdable `optional:"true"`
}

// NewDedupModule provides Config from "eventbus.dedup" and a Cache.
// Redis is used as the cold tier when a redis.Cmdable is available.
func NewDedupModule() fx.Option {
	return fx.Module("dedup",
		fx.Provide(
			newConfig,
			fx.Annotate(provideCache, fx.As(new(Cache))),
		),
	)
}

func provideCache(p cacheParams) *TieredCache {
	cold := p.Cold
	if p.Conf.DisableCold {
		cold = nil
	}
	if cold == nil {
		p.Log.Info("dedup: cold tier disabled, using memory only")
	}
	return NewTieredCache(p.Conf, cold, p.Log)
}
