package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/dedup"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/metrics/metricstest"
	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nackCall struct {
	leaseID   string
	cause     error
	notBefore time.Time
}

type releaseCall struct {
	leaseID   string
	notBefore time.Time
}

type exhaustedCall struct {
	leaseID   string
	reason    event.Reason
	cause     error
	notBefore time.Time
}

type mockStore struct {
	mu           sync.Mutex
	batches      [][]outbox.Lease
	takeErr      error
	acked        []string
	nacked       []nackCall
	released     []releaseCall
	deadLettered []string
	exhausted    []exhaustedCall
}

func (m *mockStore) Offer(context.Context, []event.Envelope, ...outbox.OfferOption) error {
	return nil
}

func (m *mockStore) TakePending(context.Context, int) ([]outbox.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.takeErr != nil {
		return nil, m.takeErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *mockStore) Ack(_ context.Context, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, leaseID)
	return nil
}

func (m *mockStore) Nack(_ context.Context, leaseID string, cause error, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nacked = append(m.nacked, nackCall{leaseID: leaseID, cause: cause, notBefore: notBefore})
	return nil
}

func (m *mockStore) Release(_ context.Context, leaseID string, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, releaseCall{leaseID: leaseID, notBefore: notBefore})
	return nil
}

func (m *mockStore) MarkDeadLettered(_ context.Context, leaseID string, _ error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered = append(m.deadLettered, leaseID)
	return nil
}

func (m *mockStore) MarkExhausted(_ context.Context, leaseID string, reason event.Reason, cause error, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted = append(m.exhausted, exhaustedCall{leaseID: leaseID, reason: reason, cause: cause, notBefore: notBefore})
	return nil
}

func (m *mockStore) Unprocessed(context.Context, []int, time.Time) ([]event.Envelope, error) {
	return nil, nil
}

func (m *mockStore) ackedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.acked...)
}

type mockDeadLetters struct {
	mu        sync.Mutex
	records   []outbox.DeadLetterRecord
	insertErr error
}

func (m *mockDeadLetters) Insert(_ context.Context, record outbox.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.records = append(m.records, record)
	return nil
}

func (m *mockDeadLetters) Find(context.Context, string) ([]outbox.DeadLetterRecord, error) {
	return nil, nil
}

type mockBroadcaster struct {
	mu   sync.Mutex
	sent []event.Envelope
	err  error
}

func (m *mockBroadcaster) Send(_ context.Context, env event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, env)
	return nil
}

func (m *mockBroadcaster) SendAll(ctx context.Context, envs []event.Envelope) error {
	for _, env := range envs {
		if err := m.Send(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockBroadcaster) Subscribe(context.Context) (<-chan Delivery, error) {
	return make(chan Delivery), nil
}

func (m *mockBroadcaster) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type workerFixture struct {
	worker      *Worker
	store       *mockStore
	deadLetters *mockDeadLetters
	broadcaster *mockBroadcaster
	cache       *dedup.TieredCache
	metrics     *metricstest.Reader
	now         time.Time
}

func newWorkerFixture(t *testing.T, conf Config) *workerFixture {
	t.Helper()
	dedupConf := dedup.Config{SuccessTTL: time.Hour, FailureTTL: time.Minute}
	recorder, reader := metricstest.New(t)
	f := &workerFixture{
		store:       &mockStore{},
		deadLetters: &mockDeadLetters{},
		broadcaster: &mockBroadcaster{},
		cache:       dedup.NewTieredCache(dedupConf, nil, zap.NewNop()),
		metrics:     reader,
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.worker = NewWorker(f.store, f.deadLetters, f.broadcaster, f.cache, dedupConf, recorder, conf, zap.NewNop())
	f.worker.now = func() time.Time { return f.now }
	return f
}

func testEnvelope(id event.ID) event.Envelope {
	return event.Envelope{
		EmittedAt: time.Date(2026, 3, 1, 11, 59, 0, 0, time.UTC),
		Event: event.DomainEvent{
			EventID:     id,
			AggregateID: "order-1",
			Payload:     event.OrderPayload{Action: event.ActionOrderPlaced, OrderID: "order-1"},
		},
	}
}

func testLease(id event.ID, attempts int) outbox.Lease {
	env := testEnvelope(id)
	return outbox.Lease{
		ID:        "lease-" + id.String(),
		EventID:   id.String(),
		EventType: env.EventType(),
		Envelope:  env,
		Payload:   []byte(`{}`),
		Attempts:  attempts,
	}
}

func TestWorker_ProcessLease_Success(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{})
	lease := testLease(1, 1)

	// When
	f.worker.processLease(context.Background(), lease)

	// Then
	assert.Equal(t, []string{lease.ID}, f.store.ackedIDs())
	assert.Equal(t, 1, f.broadcaster.sentCount())
	outcome, found, err := f.cache.Get(context.Background(), dedup.Key{Scope: DedupScope, EventID: 1})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, dedup.OutcomeSucceeded, outcome)
	assert.Equal(t, int64(1), f.metrics.Count(metrics.CounterProcessed, "order.placed"))
}

func TestWorker_ProcessLease_AlreadyBroadcast(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{})
	require.NoError(t, f.cache.Set(context.Background(), dedup.Key{Scope: DedupScope, EventID: 2}, dedup.OutcomeSucceeded, time.Hour))
	lease := testLease(2, 1)

	// When
	f.worker.processLease(context.Background(), lease)

	// Then
	assert.Equal(t, []string{lease.ID}, f.store.ackedIDs())
	assert.Zero(t, f.broadcaster.sentCount())
}

func TestWorker_ProcessLease_RetryableFailure(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{BackoffBase: time.Second, MaxBackoff: time.Minute})
	f.broadcaster.err = errors.New("broker down")
	lease := testLease(3, 2)

	// When
	f.worker.processLease(context.Background(), lease)

	// Then
	require.Len(t, f.store.nacked, 1)
	assert.Equal(t, lease.ID, f.store.nacked[0].leaseID)
	assert.Equal(t, f.now.Add(4*time.Second), f.store.nacked[0].notBefore)
	assert.Empty(t, f.deadLetters.records)
}

func TestWorker_ProcessLease_TerminalFailure(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{})
	f.broadcaster.err = event.NewError(event.ReasonValidationFailed, "encode", errors.New("bad payload"))
	lease := testLease(4, 1)

	// When
	f.worker.processLease(context.Background(), lease)

	// Then
	require.Len(t, f.deadLetters.records, 1)
	record := f.deadLetters.records[0]
	assert.Equal(t, outbox.SourceEvent, record.Source)
	assert.Equal(t, lease.EventID, record.SourceID)
	assert.Equal(t, DedupScope, record.Subscriber)
	assert.Equal(t, string(event.ReasonValidationFailed), record.ErrorReason)
	assert.Len(t, record.ErrorHistory, 1)
	assert.Equal(t, []string{lease.ID}, f.store.deadLettered)
	assert.Empty(t, f.store.nacked)
	assert.Equal(t, int64(1), f.metrics.Count(metrics.CounterDeadLettered, "order.placed"))
}

func TestWorker_ProcessLease_MaxAttempts(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{MaxAttempts: 3})
	f.broadcaster.err = errors.New("broker down")
	lease := testLease(5, 3)
	lease.ErrorHistory = []outbox.ErrorEntry{{Error: "first"}, {Error: "second"}}

	// When
	f.worker.processLease(context.Background(), lease)

	// Then
	require.Len(t, f.deadLetters.records, 1)
	assert.Equal(t, string(event.ReasonMaxRetries), f.deadLetters.records[0].ErrorReason)
	assert.Len(t, f.deadLetters.records[0].ErrorHistory, 3)
	assert.Equal(t, 3, f.deadLetters.records[0].Attempts)
}

func TestWorker_ProcessLease_DecodeError(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{})
	lease := outbox.Lease{ID: "lease-x", EventID: "6", EventType: "order.placed", Payload: []byte("garbage"), Attempts: 1,
		DecodeErr: event.NewError(event.ReasonDeserializationFailed, "decode", errors.New("invalid json"))}

	// When
	f.worker.processLease(context.Background(), lease)

	// Then
	require.Len(t, f.deadLetters.records, 1)
	assert.Equal(t, string(event.ReasonDeserializationFailed), f.deadLetters.records[0].ErrorReason)
	assert.Equal(t, []byte("garbage"), f.deadLetters.records[0].Payload)
	assert.Zero(t, f.broadcaster.sentCount())
}

func TestWorker_ProcessLease_DeadLetterInsertFails(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{ErrorInterval: 5 * time.Second})
	f.broadcaster.err = event.NewError(event.ReasonValidationFailed, "encode", errors.New("bad payload"))
	f.deadLetters.insertErr = errors.New("mongo down")
	lease := testLease(7, 1)

	// When
	f.worker.processLease(context.Background(), lease)

	// Then the entry keeps its attempts and its reason instead of being released
	assert.Empty(t, f.store.released)
	assert.Empty(t, f.store.deadLettered)
	require.Len(t, f.store.exhausted, 1)
	call := f.store.exhausted[0]
	assert.Equal(t, lease.ID, call.leaseID)
	assert.Equal(t, event.ReasonValidationFailed, call.reason)
	assert.ErrorContains(t, call.cause, "bad payload")
	assert.Equal(t, f.now.Add(5*time.Second), call.notBefore)
}

func TestWorker_ProcessLease_ExhaustedIsNotSentAgain(t *testing.T) {
	// Given the last attempt failed and the dead-letter write failed too
	f := newWorkerFixture(t, Config{MaxAttempts: 5, ErrorInterval: time.Second})
	f.broadcaster.err = errors.New("broker down")
	f.deadLetters.insertErr = errors.New("mongo down")
	lease := testLease(12, 5)
	lease.ErrorHistory = []outbox.ErrorEntry{{Error: "1"}, {Error: "2"}, {Error: "3"}, {Error: "4"}}
	f.worker.processLease(context.Background(), lease)
	require.Len(t, f.store.exhausted, 1)
	assert.Equal(t, event.ReasonMaxRetries, f.store.exhausted[0].reason)

	// When the entry is taken again after the broker and the store recovered
	f.broadcaster.err = nil
	f.deadLetters.insertErr = nil
	retaken := testLease(12, 5)
	retaken.DeadLetterReason = event.ReasonMaxRetries
	retaken.ErrorHistory = append(lease.ErrorHistory, outbox.ErrorEntry{Error: "broker down"})
	f.worker.processLease(context.Background(), retaken)

	// Then it is dead-lettered without another send
	assert.Zero(t, f.broadcaster.sentCount())
	assert.Empty(t, f.store.ackedIDs())
	assert.Equal(t, []string{lease.ID}, f.store.deadLettered)
	require.Len(t, f.deadLetters.records, 1)
	record := f.deadLetters.records[0]
	assert.Equal(t, string(event.ReasonMaxRetries), record.ErrorReason)
	assert.Equal(t, 5, record.Attempts)
	assert.Len(t, record.ErrorHistory, 5)
	assert.Equal(t, "broker down", record.ErrorHistory[4].Error)
}

func TestWorker_ProcessLease_CircuitOpen(t *testing.T) {
	// Given
	conf := Config{}
	conf.Resilience.CircuitBreaker.FailureThreshold = 1
	conf.Resilience.CircuitBreaker.Timeout = 30 * time.Second
	f := newWorkerFixture(t, conf)
	f.broadcaster.err = errors.New("broker down")

	// When
	f.worker.processLease(context.Background(), testLease(8, 1))
	f.worker.processLease(context.Background(), testLease(9, 1))

	// Then
	require.Len(t, f.store.nacked, 1)
	require.Len(t, f.store.released, 1)
	assert.Equal(t, "lease-9", f.store.released[0].leaseID)
	assert.Equal(t, f.now.Add(30*time.Second), f.store.released[0].notBefore)
}

func TestWorker_ProcessLease_TerminalErrorsDoNotTripBreaker(t *testing.T) {
	// Given
	conf := Config{}
	conf.Resilience.CircuitBreaker.FailureThreshold = 1
	f := newWorkerFixture(t, conf)
	f.broadcaster.err = event.NewError(event.ReasonValidationFailed, "encode", errors.New("bad payload"))

	// When
	f.worker.processLease(context.Background(), testLease(10, 1))
	f.worker.processLease(context.Background(), testLease(11, 1))

	// Then
	assert.Len(t, f.deadLetters.records, 2)
	assert.Empty(t, f.store.released)
}

func TestWorker_Backoff(t *testing.T) {
	f := newWorkerFixture(t, Config{BackoffBase: time.Second, MaxBackoff: 10 * time.Second})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: time.Second},
		{attempts: 1, want: 2 * time.Second},
		{attempts: 3, want: 8 * time.Second},
		{attempts: 4, want: 10 * time.Second},
		{attempts: 60, want: 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.worker.backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestWorker_Run(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{PollInterval: 10 * time.Millisecond})
	f.store.batches = [][]outbox.Lease{{testLease(20, 1), testLease(21, 1)}, {testLease(22, 1)}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// When
	go func() { done <- f.worker.Run(ctx) }()

	// Then
	assert.Eventually(t, func() bool { return len(f.store.ackedIDs()) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.ElementsMatch(t, []string{"lease-20", "lease-21", "lease-22"}, f.store.ackedIDs())
}

func TestWorker_Run_KeepsGoingOnStoreErrors(t *testing.T) {
	// Given
	f := newWorkerFixture(t, Config{ErrorInterval: 10 * time.Millisecond})
	f.store.takeErr = errors.New("mongo down")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// When
	err := f.worker.Run(ctx)

	// Then
	assert.NoError(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	var conf Config
	applyDefaults(&conf)

	assert.Equal(t, 50, conf.BatchSize)
	assert.Equal(t, 5, conf.Concurrency)
	assert.Equal(t, 5, conf.MaxAttempts)
	assert.Equal(t, 10*time.Minute, conf.MaxBackoff)
	assert.True(t, conf.Resilience.CircuitBreaker.Enabled)
	assert.Equal(t, uint32(3), conf.Resilience.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, conf.Resilience.CallTimeout)
	assert.Equal(t, 100, conf.Resilience.RateLimit.Burst)
}
