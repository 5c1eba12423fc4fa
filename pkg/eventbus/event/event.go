package event

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ID is a Snowflake identifier. Its timestamp bits are the only time an
// event carries about when it happened.
type ID int64

// Time returns the generation time encoded in the id.
func (id ID) Time() time.Time {
	return time.UnixMilli(snowflake.ID(id).Time())
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsZero reports whether the id is unassigned.
func (id ID) IsZero() bool {
	return id == 0
}

// ParseID parses the decimal form produced by String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, NewError(ReasonValidationFailed, "parse id", err)
	}
	return ID(v), nil
}

// DomainEvent is one immutable business occurrence.
type DomainEvent struct {
	EventID       ID
	AggregateID   string
	CausationID   string
	CorrelationID string
	Payload       Payload
}

// Category returns the payload tag, or "" when the payload is nil.
func (e DomainEvent) Category() Category {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Category()
}

// EventType returns "<category>.<action>".
func (e DomainEvent) EventType() string {
	if e.Payload == nil {
		return ""
	}
	return Type(e.Payload.Category(), e.Payload.EventAction())
}

// IdempotencyKey returns "<category>:<eventId>".
func (e DomainEvent) IdempotencyKey() string {
	return string(e.Category()) + ":" + e.EventID.String()
}

// Validate checks the payload and the aggregate id.
func (e DomainEvent) Validate() error {
	if e.AggregateID == "" {
		return NewError(ReasonValidationFailed, "validate event", errors.New("aggregate id is required"))
	}
	switch e.Payload.(type) {
	case nil:
		return NewError(ReasonValidationFailed, "validate event", errors.New("payload is required"))
	case OrderPayload, PaymentPayload, SystemPayload, UserPayload:
	default:
		// pointers satisfy Payload too but are not part of the wire format
		return NewError(ReasonValidationFailed, "validate event", fmt.Errorf("unsupported payload type %T", e.Payload))
	}
	return e.Payload.Validate()
}

// Option configures NewDomainEvent.
type Option func(*DomainEvent)

func WithCorrelation(id string) Option {
	return func(e *DomainEvent) {
		e.CorrelationID = id
	}
}

func WithCausation(id string) Option {
	return func(e *DomainEvent) {
		e.CausationID = id
	}
}

// NewDomainEvent builds a validated event. EventID stays zero until emission.
func NewDomainEvent(aggregateID string, payload Payload, opts ...Option) (DomainEvent, error) {
	e := DomainEvent{AggregateID: aggregateID, Payload: payload}
	for _, opt := range opts {
		opt(&e)
	}
	if err := e.Validate(); err != nil {
		return DomainEvent{}, err
	}
	return e, nil
}

// Envelope is the unit stored in the outbox and sent between nodes.
type Envelope struct {
	EmittedAt    time.Time
	Event        DomainEvent
	TraceContext map[string]string
}

// EventType is a shorthand for Event.EventType.
func (e Envelope) EventType() string {
	return e.Event.EventType()
}

// Matches reports whether the envelope satisfies a pattern accepted by ParseEventType.
func (e Envelope) Matches(category Category, action Action) bool {
	if category == "" {
		return true
	}
	if e.Event.Category() != category {
		return false
	}
	return action == "" || e.Event.Payload.EventAction() == action
}
