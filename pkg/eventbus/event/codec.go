package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// ContentType identifies the Encode format on transports that carry it.
const ContentType = "application/vnd.eventbus.envelope+json"

type wireEnvelope struct {
	EmittedAt     time.Time         `json:"emittedAt"`
	EventID       ID                `json:"eventId"`
	AggregateID   string            `json:"aggregateId"`
	CausationID   string            `json:"causationId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Payload       wirePayload       `json:"payload"`
	TraceContext  map[string]string `json:"traceContext,omitempty"`
}

// wirePayload is a tagged union: Category names the single non-nil field.
type wirePayload struct {
	Category Category        `json:"category"`
	Order    *OrderPayload   `json:"order,omitempty"`
	Payment  *PaymentPayload `json:"payment,omitempty"`
	System   *SystemPayload  `json:"system,omitempty"`
	User     *UserPayload    `json:"user,omitempty"`
}

// Encode serializes env. The payload must be valid.
func Encode(env Envelope) ([]byte, error) {
	if err := env.Event.Validate(); err != nil {
		return nil, err
	}

	w := wireEnvelope{
		EmittedAt:     env.EmittedAt.UTC(),
		EventID:       env.Event.EventID,
		AggregateID:   env.Event.AggregateID,
		CausationID:   env.Event.CausationID,
		CorrelationID: env.Event.CorrelationID,
		TraceContext:  env.TraceContext,
		Payload:       wirePayload{Category: env.Event.Category()},
	}

	switch p := env.Event.Payload.(type) {
	case OrderPayload:
		w.Payload.Order = &p
	case PaymentPayload:
		w.Payload.Payment = &p
	case SystemPayload:
		w.Payload.System = &p
	case UserPayload:
		w.Payload.User = &p
	}

	data, err := sonic.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope %s: %w", env.Event.EventID, err)
	}
	return data, nil
}

// Decode parses data produced by Encode. Unknown tags, mismatched bodies and
// actions outside the category table fail with ReasonDeserializationFailed.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := sonic.Unmarshal(data, &w); err != nil {
		return Envelope{}, NewError(ReasonDeserializationFailed, "decode envelope", err)
	}

	payload, err := w.Payload.unwrap()
	if err != nil {
		return Envelope{}, NewError(ReasonDeserializationFailed, "decode envelope", err)
	}

	env := Envelope{
		EmittedAt: w.EmittedAt,
		Event: DomainEvent{
			EventID:       w.EventID,
			AggregateID:   w.AggregateID,
			CausationID:   w.CausationID,
			CorrelationID: w.CorrelationID,
			Payload:       payload,
		},
		TraceContext: w.TraceContext,
	}
	if err := env.Event.Validate(); err != nil {
		return Envelope{}, NewError(ReasonDeserializationFailed, "decode envelope", err)
	}
	return env, nil
}

func (w wirePayload) unwrap() (Payload, error) {
	set := 0
	for _, present := range []bool{w.Order != nil, w.Payment != nil, w.System != nil, w.User != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("expected exactly one payload body, got %d", set)
	}

	switch w.Category {
	case CategoryOrder:
		if w.Order != nil {
			return *w.Order, nil
		}
	case CategoryPayment:
		if w.Payment != nil {
			return *w.Payment, nil
		}
	case CategorySystem:
		if w.System != nil {
			return *w.System, nil
		}
	case CategoryUser:
		if w.User != nil {
			return *w.User, nil
		}
	default:
		return nil, fmt.Errorf("unknown category %q", w.Category)
	}
	return nil, errors.New("payload body does not match category " + string(w.Category))
}
