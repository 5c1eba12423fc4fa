package mongo

import (
	"context"
	"errors"
	"testing"

	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) Collection(name string) *Collection {
	return nil
}

func (m *mockAdmin) Database() *mongodriver.Database {
	return nil
}

func (m *mockAdmin) StartSession(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Session), args.Error(1)
}

// fakeSession runs the callback directly and returns scripted errors per call.
type fakeSession struct {
	errs  []error
	calls int
	ended int
}

func (s *fakeSession) WithTransaction(ctx context.Context, fn func(ctx context.Context) (any, error), _ ...options.Lister[options.TransactionOptions]) (any, error) {
	s.calls++
	if len(s.errs) >= s.calls && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return fn(ctx)
}

func (s *fakeSession) EndSession(context.Context) {
	s.ended++
}

func transientErr() error {
	return mongodriver.CommandError{Message: "write conflict", Labels: []string{"TransientTransactionError"}}
}

func TestTxManager_WithTransaction(t *testing.T) {
	t.Run("commits and returns result", func(t *testing.T) {
		// Given
		session := &fakeSession{}
		admin := &mockAdmin{}
		admin.On("StartSession", mock.Anything).Return(session, nil)
		tm := NewTxManager(admin, 3, zap.NewNop())

		// When
		result, err := tm.WithTransaction(context.Background(), func(context.Context) (any, error) {
			return "ok", nil
		})

		// Then
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 1, session.ended)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		// Given: the first attempt hits a transient error
		session := &fakeSession{errs: []error{transientErr()}}
		admin := &mockAdmin{}
		admin.On("StartSession", mock.Anything).Return(session, nil)
		tm := NewTxManager(admin, 3, zap.NewNop())

		// When
		_, err := tm.WithTransaction(context.Background(), func(context.Context) (any, error) {
			return nil, nil
		})

		// Then: the second attempt commits
		require.NoError(t, err)
		assert.Equal(t, 2, session.calls)
		admin.AssertNumberOfCalls(t, "StartSession", 2)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		session := &fakeSession{errs: []error{transientErr(), transientErr(), transientErr()}}
		admin := &mockAdmin{}
		admin.On("StartSession", mock.Anything).Return(session, nil)
		tm := NewTxManager(admin, 3, zap.NewNop())

		_, err := tm.WithTransaction(context.Background(), func(context.Context) (any, error) {
			return nil, nil
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, persistence.ErrTransactionFailed)
		assert.Equal(t, 3, session.calls)
	})

	t.Run("does not retry callback errors", func(t *testing.T) {
		session := &fakeSession{}
		admin := &mockAdmin{}
		admin.On("StartSession", mock.Anything).Return(session, nil)
		tm := NewTxManager(admin, 3, zap.NewNop())
		cause := errors.New("validation failed")

		_, err := tm.WithTransaction(context.Background(), func(context.Context) (any, error) {
			return nil, cause
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, persistence.ErrTransactionFailed)
		assert.Equal(t, 1, session.calls)
	})

	t.Run("session start failure", func(t *testing.T) {
		admin := &mockAdmin{}
		admin.On("StartSession", mock.Anything).Return(nil, errors.New("no servers"))
		tm := NewTxManager(admin, 3, zap.NewNop())

		_, err := tm.WithTransaction(context.Background(), func(context.Context) (any, error) {
			return nil, nil
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start session")
	})
}
