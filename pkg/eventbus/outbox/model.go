package outbox

import (
	"time"

	"github.com/Sokol111/ecommerce-eventbus/pkg/eventbus/event"
)

const (
	StatusPending      = "PENDING"
	StatusSent         = "SENT"
	StatusDeadLettered = "DEAD_LETTERED"
)

// ErrorEntry is one failed attempt.
type ErrorEntry struct {
	Error     string    `bson:"error" json:"error"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// NewErrorEntry records err at now.
func NewErrorEntry(err error, now time.Time) ErrorEntry {
	return ErrorEntry{Error: err.Error(), Timestamp: now.UTC()}
}

type outboxEntity struct {
	ID               string       `bson:"_id"`
	EventType        string       `bson:"eventType"`
	AggregateID      string       `bson:"aggregateId"`
	ShardID          int          `bson:"shardId"`
	Payload          []byte       `bson:"payload"`
	Status           string       `bson:"status"`
	Attempts         int          `bson:"attempts"`
	ErrorHistory     []ErrorEntry `bson:"errorHistory,omitempty"`
	DeadLetterReason string       `bson:"deadLetterReason,omitempty"`
	LeaseID          string       `bson:"leaseId,omitempty"`
	CreatedAt        time.Time    `bson:"createdAt"`
	NextAttemptAfter time.Time    `bson:"nextAttemptAfter"`
	LockExpiresAt    time.Time    `bson:"lockExpiresAt"`
	SentAt           *time.Time   `bson:"sentAt,omitempty"`
}

// Lease is an entry taken by TakePending. It stays hidden from other takers
// until acked, nacked, released or until the lease expires.
type Lease struct {
	ID               string
	EventID          string
	EventType        string
	Envelope         event.Envelope
	Payload          []byte
	Attempts         int
	NextAttemptAfter time.Time
	ErrorHistory     []ErrorEntry
	// DeadLetterReason is set once attempts ran out but the dead-letter
	// record is still missing.
	DeadLetterReason event.Reason
	// DecodeErr is set when Payload could not be decoded into Envelope.
	DecodeErr error
}

func (e *outboxEntity) toLease() Lease {
	lease := Lease{
		ID:               e.LeaseID,
		EventID:          e.ID,
		EventType:        e.EventType,
		Payload:          e.Payload,
		Attempts:         e.Attempts,
		NextAttemptAfter: e.NextAttemptAfter,
		ErrorHistory:     e.ErrorHistory,
		DeadLetterReason: event.Reason(e.DeadLetterReason),
	}
	lease.Envelope, lease.DecodeErr = event.Decode(e.Payload)
	return lease
}

// DeadLetterRecord is written once per envelope and subscriber that
// failed terminally or ran out of attempts.
type DeadLetterRecord struct {
	Source       string       `bson:"source" json:"source"`
	SourceID     string       `bson:"sourceId" json:"sourceId"`
	Type         string       `bson:"type" json:"type"`
	Subscriber   string       `bson:"subscriber" json:"subscriber"`
	Payload      []byte       `bson:"payload" json:"payload"`
	Attempts     int          `bson:"attempts" json:"attempts"`
	ErrorReason  string       `bson:"errorReason" json:"errorReason"`
	ErrorHistory []ErrorEntry `bson:"errorHistory" json:"errorHistory"`
	CreatedAt    time.Time    `bson:"createdAt" json:"createdAt"`
}

// SourceEvent is the Source of records created for events.
const SourceEvent = "event"

func nowUTC() time.Time {
	return time.Now().UTC()
}
