package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/cluster"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const collectionName = "eventbus_outbox"

// ErrLeaseNotFound is returned when a lease expired and the entry was taken again.
var ErrLeaseNotFound = errors.New("outbox lease not found")

// Store is the durable queue of envelopes awaiting broadcast.
type Store interface {
	// Offer inserts all envelopes atomically. When ctx carries a Mongo
	// session the insert joins its transaction.
	Offer(ctx context.Context, envelopes []event.Envelope, opts ...OfferOption) error

	// TakePending leases up to batchSize entries that are due.
	TakePending(ctx context.Context, batchSize int) ([]Lease, error)

	Ack(ctx context.Context, leaseID string) error

	// Nack records cause and makes the entry available again at notBefore.
	Nack(ctx context.Context, leaseID string, cause error, notBefore time.Time) error

	// Release returns the entry without consuming an attempt.
	Release(ctx context.Context, leaseID string, notBefore time.Time) error

	MarkDeadLettered(ctx context.Context, leaseID string, cause error) error

	// MarkExhausted returns an entry whose dead-letter record could not be
	// written. It keeps the attempt count, records cause and stores reason so
	// the next taker dead-letters it without sending. Recovery skips it.
	MarkExhausted(ctx context.Context, leaseID string, reason event.Reason, cause error, notBefore time.Time) error

	// Unprocessed returns pending envelopes on shardIDs created at or before asOf.
	Unprocessed(ctx context.Context, shardIDs []int, asOf time.Time) ([]event.Envelope, error)
}

type offerOptions struct {
	scheduledAt time.Time
}

// OfferOption configures Offer.
type OfferOption func(*offerOptions)

// WithScheduledAt delays the first delivery attempt until t.
func WithScheduledAt(t time.Time) OfferOption {
	return func(o *offerOptions) {
		o.scheduledAt = t
	}
}

type mongoStore struct {
	coll    *mongo.Collection
	sharder cluster.Sharder
	conf    Config
	log     *zap.Logger
	now     func() time.Time
}

// NewStore returns the Mongo-backed Store. Zero fields of conf take defaults.
func NewStore(m mongo.Mongo, sharder cluster.Sharder, conf Config, log *zap.Logger) Store {
	applyDefaults(&conf)
	return newStore(m, sharder, conf, log)
}

func newStore(m mongo.Mongo, sharder cluster.Sharder, conf Config, log *zap.Logger) *mongoStore {
	return &mongoStore{
		coll:    m.Collection(collectionName),
		sharder: sharder,
		conf:    conf,
		log:     log.With(zap.String("component", "outbox")),
		now:     nowUTC,
	}
}

func (s *mongoStore) Offer(ctx context.Context, envelopes []event.Envelope, opts ...OfferOption) error {
	if len(envelopes) == 0 {
		return nil
	}
	o := offerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	now := s.now()
	nextAttempt := now
	if o.scheduledAt.After(now) {
		nextAttempt = o.scheduledAt.UTC()
	}

	docs := make([]any, 0, len(envelopes))
	for _, env := range envelopes {
		payload, err := event.Encode(env)
		if err != nil {
			return err
		}
		docs = append(docs, outboxEntity{
			ID:               env.Event.EventID.String(),
			EventType:        env.EventType(),
			AggregateID:      env.Event.AggregateID,
			ShardID:          s.sharder.ShardOf(env.Event.AggregateID),
			Payload:          payload,
			Status:           StatusPending,
			CreatedAt:        now,
			NextAttemptAfter: nextAttempt,
			LockExpiresAt:    now,
		})
	}

	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return event.NewError(event.ReasonDuplicateEvent, "offer", err)
		}
		return fmt.Errorf("failed to insert outbox entities: %w", err)
	}
	return nil
}

func (s *mongoStore) TakePending(ctx context.Context, batchSize int) ([]Lease, error) {
	leases := make([]Lease, 0, batchSize)
	for len(leases) < batchSize {
		entity, err := s.takeOne(ctx)
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			break
		}
		if err != nil {
			if len(leases) > 0 {
				s.log.Warn("take interrupted, returning partial batch", zap.Int("taken", len(leases)), zap.Error(err))
				break
			}
			return nil, fmt.Errorf("failed to take outbox entity: %w", err)
		}
		leases = append(leases, entity.toLease())
	}
	return leases, nil
}

func (s *mongoStore) takeOne(ctx context.Context) (*outboxEntity, error) {
	now := s.now()
	filter := bson.M{
		"status":           StatusPending,
		"nextAttemptAfter": bson.M{"$lte": now.Add(s.conf.ShortDelayThreshold)},
		"lockExpiresAt":    bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"leaseId":       uuid.NewString(),
			"lockExpiresAt": now.Add(s.conf.LeaseDuration),
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "nextAttemptAfter", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var entity outboxEntity
	if err := s.coll.FindOneAndUpdate(ctx, filter, update, &entity, opts); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *mongoStore) Ack(ctx context.Context, leaseID string) error {
	now := s.now()
	return s.updateLease(ctx, "ack", leaseID, bson.M{
		"$set":   bson.M{"status": StatusSent, "sentAt": now, "lockExpiresAt": now},
		"$unset": bson.M{"leaseId": ""},
	})
}

func (s *mongoStore) Nack(ctx context.Context, leaseID string, cause error, notBefore time.Time) error {
	now := s.now()
	return s.updateLease(ctx, "nack", leaseID, bson.M{
		"$set":   bson.M{"nextAttemptAfter": notBefore.UTC(), "lockExpiresAt": now},
		"$push":  bson.M{"errorHistory": NewErrorEntry(cause, now)},
		"$unset": bson.M{"leaseId": ""},
	})
}

func (s *mongoStore) Release(ctx context.Context, leaseID string, notBefore time.Time) error {
	return s.updateLease(ctx, "release", leaseID, bson.M{
		"$set":   bson.M{"nextAttemptAfter": notBefore.UTC(), "lockExpiresAt": s.now()},
		"$inc":   bson.M{"attempts": -1},
		"$unset": bson.M{"leaseId": ""},
	})
}

func (s *mongoStore) MarkDeadLettered(ctx context.Context, leaseID string, cause error) error {
	now := s.now()
	update := bson.M{
		"$set":   bson.M{"status": StatusDeadLettered, "lockExpiresAt": now},
		"$unset": bson.M{"leaseId": ""},
	}
	if cause != nil {
		update["$push"] = bson.M{"errorHistory": NewErrorEntry(cause, now)}
	}
	return s.updateLease(ctx, "mark dead-lettered", leaseID, update)
}

func (s *mongoStore) MarkExhausted(ctx context.Context, leaseID string, reason event.Reason, cause error, notBefore time.Time) error {
	now := s.now()
	update := bson.M{
		"$set": bson.M{
			"deadLetterReason": string(reason),
			"nextAttemptAfter": notBefore.UTC(),
			"lockExpiresAt":    now,
		},
		// the next take increments it again
		"$inc":   bson.M{"attempts": -1},
		"$unset": bson.M{"leaseId": ""},
	}
	if cause != nil {
		update["$push"] = bson.M{"errorHistory": NewErrorEntry(cause, now)}
	}
	return s.updateLease(ctx, "mark exhausted", leaseID, update)
}

func (s *mongoStore) updateLease(ctx context.Context, op, leaseID string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"leaseId": leaseID, "status": StatusPending}, update)
	if err != nil {
		return fmt.Errorf("failed to %s outbox lease %s: %w", op, leaseID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("failed to %s outbox lease %s: %w", op, leaseID, ErrLeaseNotFound)
	}
	return nil
}

func (s *mongoStore) Unprocessed(ctx context.Context, shardIDs []int, asOf time.Time) ([]event.Envelope, error) {
	if len(shardIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"status":           StatusPending,
		"shardId":          bson.M{"$in": shardIDs},
		"createdAt":        bson.M{"$lte": asOf.UTC()},
		"deadLetterReason": bson.M{"$exists": false},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	var entities []outboxEntity
	if err := s.coll.FindAll(ctx, filter, &entities, opts); err != nil {
		return nil, fmt.Errorf("failed to query unprocessed outbox entities: %w", err)
	}

	envelopes := make([]event.Envelope, 0, len(entities))
	for _, e := range entities {
		env, err := event.Decode(e.Payload)
		if err != nil {
			s.log.Warn("skipping undecodable outbox entity", zap.String("eventId", e.ID), zap.Error(err))
			continue
		}
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}
