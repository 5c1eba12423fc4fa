package broadcast

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

type partitionKey struct {
	topic     string
	partition int32
}

// partitionOffsets holds the offsets read but not yet stored, in read order.
type partitionOffsets struct {
	pending []kafka.Offset
	settled map[kafka.Offset]bool
}

// offsetTracker stores the offset of a partition only after every message
// read before it was settled. Settlement may happen in any order.
type offsetTracker struct {
	store func([]kafka.TopicPartition) ([]kafka.TopicPartition, error)
	onErr func(error)

	mu         sync.Mutex
	closed     bool
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker(store func([]kafka.TopicPartition) ([]kafka.TopicPartition, error), onErr func(error)) *offsetTracker {
	return &offsetTracker{
		store:      store,
		onErr:      onErr,
		partitions: make(map[partitionKey]*partitionOffsets),
	}
}

// track registers a message read at tp and returns the func that settles it.
// The func is safe to call more than once.
func (t *offsetTracker) track(tp kafka.TopicPartition) func() {
	if tp.Topic == nil {
		return func() {}
	}
	key := partitionKey{topic: *tp.Topic, partition: tp.Partition}

	t.mu.Lock()
	p := t.partitions[key]
	// a seek or reassignment rewinds the partition; start over
	if p == nil || (len(p.pending) > 0 && tp.Offset <= p.pending[len(p.pending)-1]) {
		p = &partitionOffsets{settled: make(map[kafka.Offset]bool)}
		t.partitions[key] = p
	}
	p.pending = append(p.pending, tp.Offset)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.settle(key, p, tp.Offset) })
	}
}

func (t *offsetTracker) settle(key partitionKey, p *partitionOffsets, offset kafka.Offset) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.partitions[key] != p {
		return
	}

	p.settled[offset] = true
	var next kafka.Offset = -1
	for len(p.pending) > 0 && p.settled[p.pending[0]] {
		delete(p.settled, p.pending[0])
		next = p.pending[0] + 1
		p.pending = p.pending[1:]
	}
	if next < 0 {
		return
	}

	topic := key.topic
	if _, err := t.store([]kafka.TopicPartition{{Topic: &topic, Partition: key.partition, Offset: next}}); err != nil {
		t.onErr(err)
	}
}

// close stops storing offsets. Settlements after close are ignored.
func (t *offsetTracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}
