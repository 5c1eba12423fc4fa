package modules

import (
	"github.com/Sokol111/ecommerce-eventbus/pkg/core"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus"
	"go.uber.org/fx"
)

type nodeOptions struct {
	core        []core.Option
	persistence []PersistenceOption
	eventbus    []eventbus.Option
	withoutHTTP bool
}

// NodeOption configures NewNodeModule.
type NodeOption func(*nodeOptions)

func WithCoreOptions(opts ...core.Option) NodeOption {
	return func(o *nodeOptions) {
		o.core = append(o.core, opts...)
	}
}

func WithPersistenceOptions(opts ...PersistenceOption) NodeOption {
	return func(o *nodeOptions) {
		o.persistence = append(o.persistence, opts...)
	}
}

func WithEventBusOptions(opts ...eventbus.Option) NodeOption {
	return func(o *nodeOptions) {
		o.eventbus = append(o.eventbus, opts...)
	}
}

// WithoutHTTP skips the health server.
func WithoutHTTP() NodeOption {
	return func(o *nodeOptions) {
		o.withoutHTTP = true
	}
}

// NewNodeModule provides everything an event bus node runs: core, persistence,
// observability, health endpoints and the bus itself.
func NewNodeModule(opts ...NodeOption) fx.Option {
	o := &nodeOptions{}
	for _, opt := range opts {
		opt(o)
	}

	httpModule := NewHTTPModule()
	if o.withoutHTTP {
		httpModule = fx.Options()
	}

	return fx.Options(
		core.NewCoreModule(o.core...),
		NewPersistenceModule(o.persistence...),
		NewObservabilityModule(),
		httpModule,
		eventbus.NewEventBusModule(o.eventbus...),
	)
}
