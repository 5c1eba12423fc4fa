package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/logger"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/hashicorp/golang-lru/v2/expirable"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Outcome is what a cache entry remembers about a handled event.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Key identifies one event within a scope. Subscribers use their own name
// as scope so one subscriber's success does not hide the event from another.
type Key struct {
	Scope   string
	EventID event.ID
}

func (k Key) String() string {
	return "dedup:" + k.Scope + ":" + k.EventID.String()
}

// Cache answers whether an event was already handled in a scope.
type Cache interface {
	Get(ctx context.Context, key Key) (Outcome, bool, error)
	Set(ctx context.Context, key Key, outcome Outcome, ttl time.Duration) error
}

type hotEntry struct {
	outcome Outcome
	// expiresAt ends the in-memory copy; validUntil ends the entry itself.
	expiresAt  time.Time
	validUntil time.Time
}

// setIfLonger writes the key only when the new TTL outlives the current one.
var setIfLonger = goredis.NewScript(`
local current = redis.call('PTTL', KEYS[1])
if current > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// TieredCache keeps a bounded in-memory tier in front of Redis.
// Reads try memory first and promote cold hits. Writes go to both tiers.
type TieredCache struct {
	hot       *expirable.LRU[string, hotEntry]
	hotTTL    time.Duration
	cold      goredis.Cmdable
	throttler *logger.LogThrottler
	now       func() time.Time
}

// NewTieredCache creates a cache. A nil cold client keeps it memory-only.
func NewTieredCache(conf Config, cold goredis.Cmdable, log *zap.Logger) *TieredCache {
	applyDefaults(&conf)
	return &TieredCache{
		hot:       expirable.NewLRU[string, hotEntry](conf.HotSize, nil, conf.HotTTL),
		hotTTL:    conf.HotTTL,
		cold:      cold,
		throttler: logger.NewLogThrottler(log.With(zap.String("component", "dedup")), time.Minute),
		now:       time.Now,
	}
}

// Get never fails because of the cold tier: its errors are logged and
// reported as a miss so delivery is not blocked.
func (c *TieredCache) Get(ctx context.Context, key Key) (Outcome, bool, error) {
	k := key.String()
	if entry, ok := c.hot.Get(k); ok && c.now().Before(entry.expiresAt) {
		return entry.outcome, true, nil
	}
	if c.cold == nil {
		return "", false, nil
	}

	var get *goredis.StringCmd
	var pttl *goredis.DurationCmd
	_, err := c.cold.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		get = pipe.Get(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		c.throttler.Warn("dedup-cold-get", "dedup cold tier unavailable, treating as miss",
			zap.String("key", k), zap.Error(err))
		return "", false, nil
	}
	c.throttler.Reset("dedup-cold-get")

	outcome := Outcome(get.Val())
	if remaining := pttl.Val(); remaining > 0 {
		c.putHot(k, outcome, remaining)
	}
	return outcome, true, nil
}

// Set writes through both tiers. A write never shortens an entry that
// already lives longer.
func (c *TieredCache) Set(ctx context.Context, key Key, outcome Outcome, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("dedup ttl must be positive, got %s", ttl)
	}
	k := key.String()
	c.putHot(k, outcome, ttl)

	if c.cold == nil {
		return nil
	}
	if err := setIfLonger.Run(ctx, c.cold, []string{k}, string(outcome), ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to write dedup key %s: %w", k, err)
	}
	return nil
}

func (c *TieredCache) putHot(k string, outcome Outcome, ttl time.Duration) {
	now := c.now()
	validUntil := now.Add(ttl)
	if current, ok := c.hot.Peek(k); ok && now.Before(current.expiresAt) && current.validUntil.After(validUntil) {
		return
	}
	c.hot.Add(k, hotEntry{outcome: outcome, expiresAt: now.Add(min(ttl, c.hotTTL)), validUntil: validUntil})
}
