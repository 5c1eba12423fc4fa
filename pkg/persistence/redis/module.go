package redis

import (
	"context"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type moduleOptions struct {
	config *Config
}

// Option configures the redis module.
type Option func(*moduleOptions)

// WithRedisConfig supplies a static Config instead of reading the "redis" section.
func WithRedisConfig(cfg Config) Option {
	return func(o *moduleOptions) {
		o.config = &cfg
	}
}

// NewRedisModule provides a *redis.Client, also exposed as redis.Cmdable.
func NewRedisModule(opts ...Option) fx.Option {
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
			provideClient,
			func(c *goredis.Client) goredis.Cmdable { return c },
		),
	)
}

func provideClient(lc fx.Lifecycle, log *zap.Logger, conf Config, readiness health.ComponentManager) (*goredis.Client, error) {
	client, err := NewClient(conf)
	if err != nil {
		return nil, err
	}

	markReady := readiness.AddComponent("redis")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ping(ctx, client, log); err != nil {
				return err
			}
			markReady()
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}
