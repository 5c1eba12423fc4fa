package mongo

import (
	"context"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

// Option configures the mongo module.
type Option func(*moduleOptions)

// WithMongoConfig supplies a static Config instead of reading the "mongo" section.
func WithMongoConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		applyDefaults(&cfg)
		o.config = &cfg
	}
}

// NewMongoModule provides Mongo, Admin and a persistence.TxManager.
func NewMongoModule(opts ...Option) fx.Option {
	o := &moduleOptions{}
	for _, opt := range opts {
		opt(o)
	}

	configOption := fx.Provide(newConfig)
	if o.config != nil {
		configOption = fx.Supply(*o.config)
	}

	return fx.Options(
		configOption,
		fx.Provide(
			provideMongo,
			newTxManager,
		),
	)
}

func provideMongo(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) (Mongo, Admin, error) {
	m, err := newMongo(log, conf)
	if err != nil {
		return nil, nil, err
	}

	markReady := readiness.AddComponent("mongo")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := m.connect(ctx); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return m.disconnect(ctx)
		},
	})

	return m, m, nil
}
