package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
)

// Broadcaster fans envelopes out to every node of the cluster.
type Broadcaster interface {
	Send(ctx context.Context, env event.Envelope) error
	SendAll(ctx context.Context, envs []event.Envelope) error
	// Subscribe returns a channel of deliveries received from any node.
	// The channel is closed once ctx is done.
	Subscribe(ctx context.Context) (<-chan Delivery, error)
}

// ErrNoSubscribers is returned by LocalBroadcaster when nothing in the
// process listens yet. It is retryable.
var ErrNoSubscribers = event.NewError(event.ReasonDeliveryFailed, "broadcast", errors.New("no local subscribers"))

// Delivery is an envelope received from a broadcaster. Settle tells the
// transport that every local subscriber is done with it. A durable transport
// redelivers unsettled envelopes after a restart.
type Delivery struct {
	Envelope event.Envelope
	settle   func()
}

// NewDelivery pairs env with the callback that settles it. settle may be nil.
func NewDelivery(env event.Envelope, settle func()) Delivery {
	return Delivery{Envelope: env, settle: settle}
}

func (d Delivery) Settle() {
	if d.settle != nil {
		d.settle()
	}
}

// IsDurable reports whether envelopes accepted by b survive a crash of this
// node before they are handled.
func IsDurable(b Broadcaster) bool {
	d, ok := b.(interface{ Durable() bool })
	return ok && d.Durable()
}

// LocalBroadcaster delivers envelopes to subscribers of the same process.
type LocalBroadcaster struct {
	bufferSize int

	mu          sync.RWMutex
	subscribers map[*localSubscriber]struct{}
}

type localSubscriber struct {
	ch   chan event.Envelope
	done <-chan struct{}
}

// NewLocalBroadcaster creates a broadcaster whose subscriber channels hold bufferSize envelopes.
func NewLocalBroadcaster(bufferSize int) *LocalBroadcaster {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &LocalBroadcaster{
		bufferSize:  bufferSize,
		subscribers: make(map[*localSubscriber]struct{}),
	}
}

// Send blocks until every current subscriber accepted env or ctx is done.
// Without subscribers it returns ErrNoSubscribers.
func (b *LocalBroadcaster) Send(ctx context.Context, env event.Envelope) error {
	b.mu.RLock()
	subs := make([]*localSubscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	if len(subs) == 0 {
		return ErrNoSubscribers
	}

	for _, s := range subs {
		select {
		case s.ch <- env:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBroadcaster) SendAll(ctx context.Context, envs []event.Envelope) error {
	for _, env := range envs {
		if err := b.Send(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (b *LocalBroadcaster) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	sub := &localSubscriber{
		ch:   make(chan event.Envelope, b.bufferSize),
		done: ctx.Done(),
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-sub.ch:
				select {
				case out <- NewDelivery(env, nil):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
