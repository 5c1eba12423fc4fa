package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type component struct {
	name      string
	ready     bool
	startedAt time.Time
	readyAt   time.Time
}

type readiness struct {
	mu          sync.RWMutex
	components  map[string]*component
	readyChan   chan struct{}
	readyOnce   sync.Once
	trafficChan chan struct{}
	trafficOnce sync.Once
	logger      *zap.Logger
}

func newReadiness(logger *zap.Logger) *readiness {
	return &readiness{
		components:  make(map[string]*component),
		readyChan:   make(chan struct{}),
		trafficChan: make(chan struct{}),
		logger:      logger,
	}
}

func (r *readiness) AddComponent(name string) func() {
	r.mu.Lock()
	if _, exists := r.components[name]; !exists {
		r.components[name] = &component{name: name, startedAt: time.Now()}
	}
	r.mu.Unlock()

	return func() { r.markReady(name) }
}

func (r *readiness) markReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	comp, exists := r.components[name]
	if !exists || comp.ready {
		return
	}
	comp.ready = true
	comp.readyAt = time.Now()
	r.logger.Debug("component ready", zap.String("component", name))

	for _, c := range r.components {
		if !c.ready {
			return
		}
	}

	r.readyOnce.Do(func() {
		close(r.readyChan)
		r.logger.Info("all components are ready", zap.Int("component_count", len(r.components)))
	})
}

func (r *readiness) IsReady() bool {
	select {
	case <-r.readyChan:
		return true
	default:
		return false
	}
}

func (r *readiness) isTrafficReady() bool {
	select {
	case <-r.trafficChan:
		return true
	default:
		return false
	}
}

func (r *readiness) GetStatus() ReadinessStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := ReadinessStatus{
		Ready:        r.IsReady(),
		TrafficReady: r.isTrafficReady(),
		Components:   make([]ComponentStatus, 0, len(r.components)),
	}

	for _, comp := range r.components {
		if status.Ready && comp.readyAt.After(status.ReadyAt) {
			status.ReadyAt = comp.readyAt
		}
		status.Components = append(status.Components, ComponentStatus{
			Name:      comp.name,
			Ready:     comp.ready,
			StartedAt: comp.startedAt,
			ReadyAt:   comp.readyAt,
		})
	}

	return status
}

// MarkTrafficReady opens the traffic gate. It has no effect until all
// registered components are ready.
func (r *readiness) MarkTrafficReady() {
	if !r.IsReady() {
		r.logger.Warn("traffic readiness requested before components are ready")
		return
	}
	r.trafficOnce.Do(func() {
		close(r.trafficChan)
		r.logger.Info("node is ready for traffic")
	})
}

// WaitReady blocks until all components are ready or ctx is done.
func (r *readiness) WaitReady(ctx context.Context) error {
	select {
	case <-r.readyChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForTrafficReady blocks until MarkTrafficReady succeeded or ctx is done.
func (r *readiness) WaitForTrafficReady(ctx context.Context) error {
	select {
	case <-r.trafficChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
