package modules

import (
	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/redis"
	"go.uber.org/fx"
)

type persistenceOptions struct {
	withoutRedis bool
}

// PersistenceOption configures NewPersistenceModule.
type PersistenceOption func(*persistenceOptions)

// WithoutRedis runs without Redis. Dedup then keeps memory only and cache
// invalidation is disabled.
func WithoutRedis() PersistenceOption {
	return func(o *persistenceOptions) {
		o.withoutRedis = true
	}
}

// NewPersistenceModule provides persistence functionality: mongo, txManager, redis
func NewPersistenceModule(opts ...PersistenceOption) fx.Option {
	o := &persistenceOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if o.withoutRedis {
		return mongo.NewMongoModule()
	}
	return fx.Options(
		mongo.NewMongoModule(),
		redis.NewRedisModule(),
	)
}
