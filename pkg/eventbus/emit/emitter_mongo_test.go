package emit

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/cluster"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence/mongo"
	"github.com/Sokol111/ecommerce-eventbus/pkg/testutil/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	code := m.Run()
	container.TerminateShared()
	os.Exit(code)
}

var allShards = []int{0, 1, 2, 3}

func newMongoEmitter(t *testing.T) (*Emitter, outbox.Store, mongo.Admin) {
	t.Helper()
	c := container.SharedMongoDB(t)
	admin := mongo.NewFromClient(zap.NewNop(), c.Client, mongo.Config{Database: c.IsolatedDatabase(t, "emit")})
	require.NoError(t, outbox.EnsureIndexes(context.Background(), admin, outbox.DefaultConfig()))

	store := outbox.NewStore(admin, cluster.NewSharder(cluster.Config{ShardCount: len(allShards)}), outbox.Config{}, zap.NewNop())
	ids, err := event.NewIDGenerator(1)
	require.NoError(t, err)

	emitter := NewEmitter(store, ids, mongo.NewTxManager(admin, 3, zap.NewNop()), nil, metrics.NewNoopRecorder(), zap.NewNop())
	return emitter, store, admin
}

func TestEmitter_EmitInTx_Mongo(t *testing.T) {
	t.Run("commit writes business row and events together", func(t *testing.T) {
		// Given
		emitter, store, admin := newMongoEmitter(t)
		orders := admin.Collection("orders")

		// When
		err := emitter.EmitInTx(context.Background(), func(txCtx context.Context) ([]event.DomainEvent, error) {
			if _, err := orders.InsertOne(txCtx, bson.M{"_id": "order-1"}); err != nil {
				return nil, err
			}
			return []event.DomainEvent{orderPlaced(t, "order-1"), orderPlaced(t, "order-1")}, nil
		})

		// Then
		require.NoError(t, err)
		pending, err := store.Unprocessed(context.Background(), allShards, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, pending, 2)
		n, err := orders.CountDocuments(context.Background(), bson.M{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rollback discards business row and events", func(t *testing.T) {
		// Given
		emitter, store, admin := newMongoEmitter(t)
		orders := admin.Collection("orders")

		// When
		err := emitter.EmitInTx(context.Background(), func(txCtx context.Context) ([]event.DomainEvent, error) {
			if _, err := orders.InsertOne(txCtx, bson.M{"_id": "order-1"}); err != nil {
				return nil, err
			}
			if err := emitter.EmitOne(txCtx, orderPlaced(t, "order-1")); err != nil {
				return nil, err
			}
			return nil, errors.New("payment declined")
		})

		// Then
		assert.True(t, IsRollback(err))
		pending, err := store.Unprocessed(context.Background(), allShards, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, pending)
		n, err := orders.CountDocuments(context.Background(), bson.M{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
