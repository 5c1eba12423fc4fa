package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newOptions(conf Config) (*goredis.Options, error) {
	var opts *goredis.Options
	if conf.URL != "" {
		parsed, err := goredis.ParseURL(conf.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{
			Addr:     conf.Addr,
			Password: conf.Password,
			DB:       conf.DB,
		}
	}

	if conf.PoolSize > 0 {
		opts.PoolSize = conf.PoolSize
	}
	opts.DialTimeout = conf.DialTimeout
	opts.ReadTimeout = conf.ReadTimeout
	opts.WriteTimeout = conf.WriteTimeout
	return opts, nil
}

// NewClient creates a client for conf. It does not dial; use Ping to check reachability.
func NewClient(conf Config) (*goredis.Client, error) {
	applyDefaults(&conf)
	opts, err := newOptions(conf)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func ping(ctx context.Context, client *goredis.Client, log *zap.Logger) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	opts := client.Options()
	log.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return nil
}
