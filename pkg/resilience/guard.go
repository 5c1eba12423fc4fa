package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrCircuitOpen is returned when the breaker for a name rejects the call.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrBulkheadFull is returned when no slot frees up within AcquireTimeout.
	ErrBulkheadFull = errors.New("bulkhead is full")
)

// Guard applies rate limiting, bulkheading and circuit breaking to calls,
// keeping an independent instance of each per name.
type Guard struct {
	cfg          Config
	log          *zap.Logger
	isSuccessful func(error) bool

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	breakers  map[string]*gobreaker.CircuitBreaker
	bulkheads map[string]*semaphore.Weighted
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithSuccessClassifier decides which call errors count as breaker failures.
// Errors for which fn returns true do not trip the breaker.
func WithSuccessClassifier(fn func(error) bool) GuardOption {
	return func(g *Guard) {
		g.isSuccessful = fn
	}
}

func NewGuard(cfg Config, log *zap.Logger, opts ...GuardOption) *Guard {
	cfg.ApplyDefaults()
	g := &Guard{
		cfg:       cfg,
		log:       log.With(zap.String("component", "resilience")),
		limiters:  make(map[string]*rate.Limiter),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		bulkheads: make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wait blocks until the rate limiter for name admits one call.
func (g *Guard) Wait(ctx context.Context, name string) error {
	limiter := g.limiter(name)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Execute runs fn under the bulkhead and circuit breaker for name.
// It does not consult the rate limiter; call Wait first when needed.
func (g *Guard) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if sem := g.bulkhead(name); sem != nil {
		if err := g.acquire(ctx, sem); err != nil {
			return err
		}
		defer sem.Release(1)
	}

	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	cb := g.breaker(name)
	if cb == nil {
		return fn(ctx)
	}

	_, err := cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, name)
	}
	return err
}

// State reports the breaker state for name. It is closed when breaking is disabled.
func (g *Guard) State(name string) gobreaker.State {
	if cb := g.breaker(name); cb != nil {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (g *Guard) acquire(ctx context.Context, sem *semaphore.Weighted) error {
	if g.cfg.Bulkhead.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Bulkhead.AcquireTimeout)
		defer cancel()
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrBulkheadFull, err)
	}
	return nil
}

func (g *Guard) limiter(name string) *rate.Limiter {
	if g.cfg.RateLimit.PerSecond <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[name]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.cfg.RateLimit.PerSecond), g.cfg.RateLimit.Burst)
		g.limiters[name] = l
	}
	return l
}

func (g *Guard) bulkhead(name string) *semaphore.Weighted {
	if g.cfg.Bulkhead.MaxConcurrent <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sem, ok := g.bulkheads[name]
	if !ok {
		sem = semaphore.NewWeighted(int64(g.cfg.Bulkhead.MaxConcurrent))
		g.bulkheads[name] = sem
	}
	return sem
}

func (g *Guard) breaker(name string) *gobreaker.CircuitBreaker {
	if !g.cfg.CircuitBreaker.Enabled {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[name]
	if !ok {
		cb = g.newBreaker(name)
		g.breakers[name] = cb
	}
	return cb
}

func (g *Guard) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := g.cfg.CircuitBreaker.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         name,
		MaxRequests:  g.cfg.CircuitBreaker.MaxRequests,
		Interval:     g.cfg.CircuitBreaker.Interval,
		Timeout:      g.cfg.CircuitBreaker.Timeout,
		IsSuccessful: g.isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.log.Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
