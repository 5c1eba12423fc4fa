// Package recovery re-broadcasts envelopes left pending by a previous run of
// this node before the node takes traffic.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/broadcast"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/cluster"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/dedup"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"go.uber.org/zap"
)

type Recovery struct {
	resolver    cluster.ShardResolver
	store       outbox.Store
	broadcaster broadcast.Broadcaster
	cache       dedup.Cache
	dedupConf   dedup.Config
	log         *zap.Logger
	now         func() time.Time
}

func NewRecovery(
	resolver cluster.ShardResolver,
	store outbox.Store,
	broadcaster broadcast.Broadcaster,
	cache dedup.Cache,
	dedupConf dedup.Config,
	log *zap.Logger,
) *Recovery {
	return &Recovery{
		resolver:    resolver,
		store:       store,
		broadcaster: broadcaster,
		cache:       cache,
		dedupConf:   dedupConf,
		log:         log.With(zap.String("component", "recovery")),
		now:         time.Now,
	}
}

// Run sends every pending envelope of the owned shards in one batch and
// returns how many were sent. Entries stay pending. On a durable transport
// the broadcast worker acks them once it sees the dedup mark; otherwise the
// worker sends them again.
func (r *Recovery) Run(ctx context.Context) (int, error) {
	shards, err := r.resolver.AssignedShardIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve owned shards: %w", err)
	}

	envelopes, err := r.store.Unprocessed(ctx, shards, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to load unprocessed envelopes: %w", err)
	}
	if len(envelopes) == 0 {
		return 0, nil
	}

	if err := r.broadcaster.SendAll(ctx, envelopes); err != nil {
		return 0, fmt.Errorf("failed to re-send %d envelopes: %w", len(envelopes), err)
	}

	if !broadcast.IsDurable(r.broadcaster) {
		return len(envelopes), nil
	}

	ttl := r.dedupConf.TTL(dedup.OutcomeSucceeded)
	for _, env := range envelopes {
		key := dedup.Key{Scope: broadcast.DedupScope, EventID: env.Event.EventID}
		if err := r.cache.Set(ctx, key, dedup.OutcomeSucceeded, ttl); err != nil {
			r.log.Warn("failed to mark recovered envelope as broadcast",
				zap.Stringer("eventId", env.Event.EventID), zap.Error(err))
		}
	}
	return len(envelopes), nil
}

// RunBestEffort runs recovery and logs instead of failing.
func (r *Recovery) RunBestEffort(ctx context.Context) {
	started := r.now()
	sent, err := r.Run(ctx)
	if err != nil {
		r.log.Warn("startup recovery failed, continuing without it", zap.Error(err))
		return
	}
	if sent == 0 {
		r.log.Info("startup recovery found no pending envelopes")
		return
	}
	r.log.Info("startup recovery re-sent pending envelopes",
		zap.Int("count", sent),
		zap.Duration("took", r.now().Sub(started)))
}
