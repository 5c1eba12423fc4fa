package subscription

import (
	"sync"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
)

// delivery is one subscriber's copy of a broadcast envelope. settle is
// called once the subscriber is done with it, whatever the outcome.
type delivery struct {
	env    event.Envelope
	settle func()
}

// slidingBuffer is a bounded FIFO that drops the oldest delivery on overflow.
type slidingBuffer struct {
	mu    sync.Mutex
	items []delivery
	head  int
	size  int
	// ready holds one token while the buffer is non-empty.
	ready chan struct{}
}

func newSlidingBuffer(capacity int) *slidingBuffer {
	return &slidingBuffer{
		items: make([]delivery, capacity),
		ready: make(chan struct{}, 1),
	}
}

// PushAll appends ds and returns the older deliveries it dropped.
func (b *slidingBuffer) PushAll(ds []delivery) []delivery {
	if len(ds) == 0 {
		return nil
	}
	b.mu.Lock()
	var dropped []delivery
	for _, d := range ds {
		if b.size == len(b.items) {
			dropped = append(dropped, b.items[b.head])
			b.items[b.head] = delivery{}
			b.head = (b.head + 1) % len(b.items)
			b.size--
		}
		b.items[(b.head+b.size)%len(b.items)] = d
		b.size++
	}
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Drain removes and returns everything buffered, oldest first.
func (b *slidingBuffer) Drain() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]delivery, b.size)
	for i := range out {
		idx := (b.head + i) % len(b.items)
		out[i] = b.items[idx]
		b.items[idx] = delivery{}
	}
	b.head, b.size = 0, 0
	return out
}

func (b *slidingBuffer) Ready() <-chan struct{} {
	return b.ready
}

// dedupeAdjacent collapses runs of deliveries with the same event id and
// settles the dropped ones.
func dedupeAdjacent(ds []delivery) []delivery {
	if len(ds) < 2 {
		return ds
	}
	out := ds[:1]
	for _, d := range ds[1:] {
		if d.env.Event.EventID == out[len(out)-1].env.Event.EventID {
			d.settle()
			continue
		}
		out = append(out, d)
	}
	return out
}
