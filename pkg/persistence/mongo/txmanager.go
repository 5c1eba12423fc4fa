package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sokol111/ecommerce-eventbus/pkg/persistence"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

type mongoTxManager struct {
	admin       Admin
	maxAttempts int
	log         *zap.Logger
}

func newTxManager(admin Admin, conf Config, log *zap.Logger) persistence.TxManager {
	return NewTxManager(admin, conf.TxMaxAttempts, log)
}

// NewTxManager creates a TxManager on top of admin. maxAttempts below 1 means 1.
func NewTxManager(admin Admin, maxAttempts int, log *zap.Logger) persistence.TxManager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &mongoTxManager{
		admin:       admin,
		maxAttempts: maxAttempts,
		log:         log.With(zap.String("component", "tx-manager")),
	}
}

func isTransientError(err error) bool {
	var labeled mongodriver.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError")
}

// WithTransaction runs fn in a transaction. If ctx already carries a session,
// fn joins it instead of starting a nested one.
func (t *mongoTxManager) WithTransaction(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error) {
	if mongodriver.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		result, err := t.runOnce(ctx, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isTransientError(err) || ctx.Err() != nil {
			break
		}
		t.log.Warn("transient transaction error, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", t.maxAttempts))
	}

	return nil, fmt.Errorf("%w: %w", persistence.ErrTransactionFailed, lastErr)
}

func (t *mongoTxManager) runOnce(ctx context.Context, fn func(txCtx context.Context) (any, error)) (any, error) {
	session, err := t.admin.StartSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	return session.WithTransaction(ctx, fn)
}
