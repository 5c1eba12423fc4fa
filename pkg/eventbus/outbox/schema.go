package outbox

import (
	"context"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	idxStatusNextAttemptLock = "outbox_status_nextAttemptAfter_lockExpiresAt"
	idxShardStatusCreatedAt  = "outbox_shardId_status_createdAt"
	idxSentAtTTL             = "outbox_sentAt_ttl"
	idxDeadLetterUnique      = "dead_letters_source_sourceId_subscriber"
)

// EnsureIndexes creates the outbox and dead-letter indexes. It is idempotent.
func EnsureIndexes(ctx context.Context, m mongo.Mongo, conf Config) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	outboxIndexes := []mongodriver.IndexModel{
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "nextAttemptAfter", Value: 1},
				{Key: "lockExpiresAt", Value: 1},
			},
			Options: options.Index().SetName(idxStatusNextAttemptLock),
		},
		{
			Keys: bson.D{
				{Key: "shardId", Value: 1},
				{Key: "status", Value: 1},
				{Key: "createdAt", Value: 1},
			},
			Options: options.Index().SetName(idxShardStatusCreatedAt),
		},
		{
			Keys: bson.D{{Key: "leaseId", Value: 1}},
			Options: options.Index().
				SetName("outbox_leaseId").
				SetSparse(true),
		},
		{
			// Only SENT entries carry sentAt, so pending ones never expire.
			Keys: bson.D{{Key: "sentAt", Value: 1}},
			Options: options.Index().
				SetName(idxSentAtTTL).
				SetExpireAfterSeconds(int32(conf.SentRetention / time.Second)),
		},
	}
	if err := m.Collection(collectionName).EnsureIndexes(ctx, outboxIndexes); err != nil {
		return err
	}

	deadLetterIndexes := []mongodriver.IndexModel{
		{
			Keys: bson.D{
				{Key: "source", Value: 1},
				{Key: "sourceId", Value: 1},
				{Key: "subscriber", Value: 1},
			},
			Options: options.Index().
				SetName(idxDeadLetterUnique).
				SetUnique(true),
		},
	}
	return m.Collection(deadLetterCollectionName).EnsureIndexes(ctx, deadLetterIndexes)
}
