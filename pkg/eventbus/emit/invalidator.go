package emit

import (
	"context"
	"fmt"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// AllEventsKey is invalidated on every emit.
const AllEventsKey = "events:all"

// Invalidator drops cached read models affected by new events.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// CacheKeys returns the keys stale after envs were emitted.
func CacheKeys(envs []event.Envelope) []string {
	keys := make([]string, 0, 2*len(envs)+1)
	for _, env := range envs {
		keys = append(keys,
			"events:"+string(env.Event.Category()),
			"aggregate:"+env.Event.AggregateID,
		)
	}
	keys = append(keys, AllEventsKey)
	return lo.Uniq(keys)
}

type redisInvalidator struct {
	client goredis.Cmdable
}

// NewRedisInvalidator deletes keys from Redis.
func NewRedisInvalidator(client goredis.Cmdable) Invalidator {
	return &redisInvalidator{client: client}
}

func (r *redisInvalidator) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate %d cache keys: %w", len(keys), err)
	}
	return nil
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, ...string) error { return nil }
