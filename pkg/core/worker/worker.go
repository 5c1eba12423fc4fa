package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/core/health"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type worker interface {
	Start()
	Stop(ctx context.Context)
}

// runnable is a type that has a Run method that can return a fatal error.
type runnable interface {
	Run(ctx context.Context) error
}

// Options contains configuration for a worker.
type Options struct {
	WaitForTrafficReady bool
	WaitReady           bool
	ShutdownOnError     bool
	// Restart re-runs the worker with exponential backoff after it returns
	// an error or panics. Ignored once the worker is stopped.
	Restart bool
	// MaxRestartInterval caps the delay between restarts.
	MaxRestartInterval time.Duration
}

// Option is a functional option for configuring a worker.
type Option func(*Options)

// WithTrafficReady makes the worker wait for traffic readiness before starting.
func WithTrafficReady() Option {
	return func(o *Options) {
		o.WaitForTrafficReady = true
	}
}

// WithReady makes the worker wait for all components to be ready before starting.
func WithReady() Option {
	return func(o *Options) {
		o.WaitReady = true
	}
}

// WithShutdown makes the worker trigger application shutdown on fatal error.
// Combined with WithRestart, shutdown happens only if restarting is impossible.
func WithShutdown() Option {
	return func(o *Options) {
		o.ShutdownOnError = true
	}
}

// WithRestart supervises the worker: an error or panic restarts it after an
// exponentially growing delay capped at maxInterval (30s when zero).
func WithRestart(maxInterval time.Duration) Option {
	return func(o *Options) {
		o.Restart = true
		o.MaxRestartInterval = maxInterval
	}
}

type baseWorker struct {
	name       string
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	log        *zap.Logger
	runFunc    func(ctx context.Context) error
	shutdowner fx.Shutdowner
	readiness  health.ReadinessWaiter
	options    Options
}

// Start runs the worker in a goroutine.
func (w *baseWorker) Start() {
	w.log.Info("starting " + w.name)
	w.ctx, w.cancelFunc = context.WithCancel(context.Background())
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

func (w *baseWorker) run() {
	if w.options.WaitReady {
		w.log.Info("waiting for components readiness")
		if err := w.readiness.WaitReady(w.ctx); err != nil {
			w.log.Info(w.name + " stopped (cancelled while waiting for readiness)")
			return
		}
	}

	if w.options.WaitForTrafficReady {
		w.log.Info("waiting for traffic readiness")
		if err := w.readiness.WaitForTrafficReady(w.ctx); err != nil {
			w.log.Info(w.name + " stopped (cancelled while waiting for traffic readiness)")
			return
		}
	}

	err := w.supervise()
	if err == nil || w.ctx.Err() != nil {
		w.log.Info(w.name + " stopped")
		return
	}

	if w.options.ShutdownOnError && w.shutdowner != nil {
		w.log.Error(w.name+" fatal error, initiating shutdown", zap.Error(err))
		if shutdownErr := w.shutdowner.Shutdown(fx.ExitCode(1)); shutdownErr != nil {
			w.log.Error("failed to initiate shutdown", zap.Error(shutdownErr))
		}
		return
	}
	w.log.Error(w.name+" stopped with error", zap.Error(err))
}

// supervise runs runFunc once, or keeps restarting it when Restart is set.
func (w *baseWorker) supervise() error {
	if !w.options.Restart {
		return w.runOnce()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = w.options.MaxRestartInterval
	if b.MaxInterval == 0 {
		b.MaxInterval = 30 * time.Second
	}
	b.MaxElapsedTime = 0

	restarts := 0
	return backoff.RetryNotify(func() error {
		err := w.runOnce()
		if err == nil || w.ctx.Err() != nil {
			return nil
		}
		return err
	}, backoff.WithContext(b, w.ctx), func(err error, next time.Duration) {
		restarts++
		w.log.Warn(w.name+" failed, restarting",
			zap.Error(err),
			zap.Int("restarts", restarts),
			zap.Duration("backoff", next))
	})
}

func (w *baseWorker) runOnce() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", errPanic, rec)
			w.log.Error(w.name+" panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
		}
	}()
	return w.runFunc(w.ctx)
}

var errPanic = errors.New("worker panicked")

// Stop cancels the worker and waits for it to return or for ctx to be done.
func (w *baseWorker) Stop(ctx context.Context) {
	w.log.Info("stopping " + w.name)
	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn(w.name+" did not stop in time", zap.Error(ctx.Err()))
	}
}

func registerWorker(lc fx.Lifecycle, w worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			w.Stop(ctx)
			return nil
		},
	})
}

// Register creates an fx.Annotate that provides a worker for the given dependency type.
// The dependency must have a Run(ctx context.Context) error method.
//
// Example:
//
//	worker.Register[*broadcast.Worker]("broadcast-worker", worker.WithTrafficReady(), worker.WithRestart(time.Minute))
func Register[T runnable](name string, opts ...Option) any {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	return fx.Annotate(
		func(lc fx.Lifecycle, log *zap.Logger, shutdowner fx.Shutdowner, readiness health.ReadinessWaiter, dep T) worker {
			w := newWorker(name, log, shutdowner, readiness, dep.Run, options)
			registerWorker(lc, w)
			return w
		},
		fx.ResultTags(`group:"workers"`),
	)
}

// Start launches a worker for run outside of Register, bound to lc.
// It is used for workers created at runtime, such as per-subscription pipelines.
func Start(lc fx.Lifecycle, name string, log *zap.Logger, readiness health.ReadinessWaiter, run func(ctx context.Context) error, opts ...Option) {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	registerWorker(lc, newWorker(name, log, nil, readiness, run, options))
}

func newWorker(name string, log *zap.Logger, shutdowner fx.Shutdowner, readiness health.ReadinessWaiter, run func(ctx context.Context) error, options Options) *baseWorker {
	return &baseWorker{
		name:       name,
		log:        log.With(zap.String("worker", name)),
		runFunc:    run,
		shutdowner: shutdowner,
		readiness:  readiness,
		options:    options,
	}
}

// Invoke forces construction of every worker provided via Register.
func Invoke() fx.Option {
	return fx.Invoke(fx.Annotate(func([]worker) {}, fx.ParamTags(`group:"workers"`)))
}
