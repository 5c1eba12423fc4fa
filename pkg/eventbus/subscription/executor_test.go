package subscription

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestExecutor(maxAttempts int, baseTimeout time.Duration) *retryExecutor {
	conf := Config{MaxAttempts: maxAttempts, BaseTimeout: baseTimeout, RetryBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	applyDefaults(&conf)
	return newRetryExecutor(conf, zap.NewNop())
}

func TestRetryExecutor_Success(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(5, time.Second)

	res := exec.Execute(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.History, 2)
	assert.False(t, res.Cancelled)
}

func TestRetryExecutor_RetryableExhausted(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(5, time.Second)

	res := exec.Execute(context.Background(), func(context.Context) error {
		calls.Add(1)
		return event.NewError(event.ReasonDeliveryFailed, "charge", errors.New("gateway unavailable"))
	})

	require.Error(t, res.Err)
	assert.Equal(t, event.ReasonMaxRetries, event.ReasonOf(res.Err))
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 5, res.Attempts)
	assert.Len(t, res.History, 5)
}

func TestRetryExecutor_TerminalSkipsRetry(t *testing.T) {
	var calls atomic.Int32
	exec := newTestExecutor(5, time.Second)

	res := exec.Execute(context.Background(), func(context.Context) error {
		calls.Add(1)
		return event.NewError(event.ReasonValidationFailed, "validate", errors.New("bad order"))
	})

	assert.Equal(t, event.ReasonValidationFailed, event.ReasonOf(res.Err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, res.History, 1)
}

func TestRetryExecutor_PanicIsTerminal(t *testing.T) {
	exec := newTestExecutor(5, time.Second)

	res := exec.Execute(context.Background(), func(context.Context) error {
		panic("boom")
	})

	require.Error(t, res.Err)
	assert.False(t, event.Retryable(res.Err))
	var panicErr *PanicError
	require.ErrorAs(t, res.Err, &panicErr)
	assert.Equal(t, "boom", panicErr.Panic)
	assert.Equal(t, 1, res.Attempts)
}

func TestRetryExecutor_TimeoutScalesWithAttempt(t *testing.T) {
	// Given a handler that ignores ctx and needs 100ms
	exec := newTestExecutor(3, 40*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32

	// When
	res := exec.Execute(context.Background(), func(ctx context.Context) error {
		calls.Add(1)
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-release:
			return nil
		}
	})

	// Then attempts with 40ms and 80ms budgets time out, the 120ms one succeeds
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, res.History, 2)
	assert.Contains(t, res.History[0].Error, string(event.ReasonHandlerTimeout))
}

func TestRetryExecutor_HungHandlerCountsAsTimeout(t *testing.T) {
	exec := newTestExecutor(2, 5*time.Millisecond)

	res := exec.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, event.ReasonMaxRetries, event.ReasonOf(res.Err))
	require.Len(t, res.History, 2)
	assert.Contains(t, res.History[1].Error, string(event.ReasonHandlerTimeout))
}

func TestRetryExecutor_Cancelled(t *testing.T) {
	exec := newTestExecutor(5, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	res := exec.Execute(ctx, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})

	assert.True(t, res.Cancelled)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.History)
}
