package subscription

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"go.uber.org/zap"
)

// PanicError is the cause recorded when a handler panics.
type PanicError struct {
	Panic any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Panic)
}

// result describes one handler activity.
type result struct {
	Attempts int
	History  []outbox.ErrorEntry
	// Err is nil on success. Exhaustion is reported as ReasonMaxRetries.
	Err error
	// Cancelled is set when ctx ended before the activity settled.
	Cancelled bool
}

type retryExecutor struct {
	maxAttempts  int
	baseTimeout  time.Duration
	retryBackoff time.Duration
	maxBackoff   time.Duration
	log          *zap.Logger
	now          func() time.Time
}

func newRetryExecutor(conf Config, log *zap.Logger) *retryExecutor {
	return &retryExecutor{
		maxAttempts:  conf.MaxAttempts,
		baseTimeout:  conf.BaseTimeout,
		retryBackoff: conf.RetryBackoff,
		maxBackoff:   conf.MaxBackoff,
		log:          log,
		now:          time.Now,
	}
}

// Execute runs fn until it succeeds, fails terminally or runs out of
// attempts. Attempt n (0-based) is cancelled after baseTimeout*(n+1).
func (r *retryExecutor) Execute(ctx context.Context, fn func(ctx context.Context) error) result {
	var res result
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			res.Err = ctx.Err()
			return res
		}

		err := r.attempt(ctx, time.Duration(attempt+1)*r.baseTimeout, fn)
		res.Attempts++
		if err == nil {
			return res
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			res.Err = ctx.Err()
			return res
		}

		res.History = append(res.History, outbox.NewErrorEntry(err, r.now()))
		lastErr = err
		r.logError(err, attempt+1)

		if !event.Retryable(err) {
			res.Err = err
			return res
		}
		if attempt+1 < r.maxAttempts && !sleep(ctx, r.backoff(attempt)) {
			res.Cancelled = true
			res.Err = ctx.Err()
			return res
		}
	}

	res.Err = event.NewError(event.ReasonMaxRetries, "handle", lastErr)
	return res
}

// attempt runs fn in its own goroutine so a handler that ignores ctx is
// abandoned at the timeout instead of stalling the pipeline.
func (r *retryExecutor) attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runRecovered(attemptCtx, fn)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return event.NewError(event.ReasonHandlerTimeout, "handle", err)
		}
		return err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return event.NewError(event.ReasonHandlerTimeout, "handle",
			fmt.Errorf("handler did not finish within %s", timeout))
	}
}

// runRecovered turns a panic into a terminal error: it points at a bug that
// retrying will not fix.
func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = event.Terminal(event.ReasonValidationFailed, &PanicError{Panic: rec, Stack: debug.Stack()})
		}
	}()
	return fn(ctx)
}

func (r *retryExecutor) backoff(attempt int) time.Duration {
	d := r.retryBackoff << attempt
	if d <= 0 || d > r.maxBackoff {
		return r.maxBackoff
	}
	return d
}

func (r *retryExecutor) logError(err error, attempt int) {
	fields := []zap.Field{
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", r.maxAttempts),
		zap.String("reason", string(event.ReasonOf(err))),
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		fields = append(fields, zap.Any("panic", panicErr.Panic), zap.ByteString("stack", panicErr.Stack))
	} else {
		fields = append(fields, zap.Error(err))
	}
	r.log.Warn("handler failed", fields...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
