package outbox

import (
	"context"
	"fmt"

	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

const deadLetterCollectionName = "eventbus_dead_letters"

// DeadLetterStore keeps one immutable record per (source, sourceId, subscriber).
type DeadLetterStore interface {
	// Insert is a no-op when a record for the same key already exists.
	Insert(ctx context.Context, record DeadLetterRecord) error
	Find(ctx context.Context, sourceID string) ([]DeadLetterRecord, error)
}

type mongoDeadLetterStore struct {
	coll *mongo.Collection
	log  *zap.Logger
}

func newDeadLetterStore(m mongo.Mongo, log *zap.Logger) *mongoDeadLetterStore {
	return &mongoDeadLetterStore{
		coll: m.Collection(deadLetterCollectionName),
		log:  log.With(zap.String("component", "dead-letters")),
	}
}

func (s *mongoDeadLetterStore) Insert(ctx context.Context, record DeadLetterRecord) error {
	if record.Source == "" {
		record.Source = SourceEvent
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = nowUTC()
	}
	if _, err := s.coll.InsertOne(ctx, record); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			s.log.Debug("dead-letter record already exists",
				zap.String("sourceId", record.SourceID),
				zap.String("subscriber", record.Subscriber))
			return nil
		}
		return fmt.Errorf("failed to insert dead-letter record for %s: %w", record.SourceID, err)
	}
	return nil
}

func (s *mongoDeadLetterStore) Find(ctx context.Context, sourceID string) ([]DeadLetterRecord, error) {
	var records []DeadLetterRecord
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if err := s.coll.FindAll(ctx, bson.M{"sourceId": sourceID}, &records, opts); err != nil {
		return nil, fmt.Errorf("failed to find dead-letter records for %s: %w", sourceID, err)
	}
	return records, nil
}
