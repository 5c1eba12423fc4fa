package event

import "errors"

// Reason classifies a delivery failure.
type Reason string

const (
	ReasonDeliveryFailed        Reason = "DeliveryFailed"
	ReasonHandlerTimeout        Reason = "HandlerTimeout"
	ReasonDeserializationFailed Reason = "DeserializationFailed"
	ReasonDuplicateEvent        Reason = "DuplicateEvent"
	ReasonHandlerMissing        Reason = "HandlerMissing"
	ReasonMaxRetries            Reason = "MaxRetries"
	ReasonTransactionRollback   Reason = "TransactionRollback"
	ReasonValidationFailed      Reason = "ValidationFailed"
)

var retryable = map[Reason]bool{
	ReasonDeliveryFailed: true,
	ReasonHandlerTimeout: true,
}

// Retryable reports whether failures with this reason may be retried.
func (r Reason) Retryable() bool {
	return retryable[r]
}

// Error carries a Reason through error chains.
type Error struct {
	Reason Reason
	Op     string
	Err    error
}

// NewError wraps err with reason. op names the failing operation.
func NewError(reason Reason, op string, err error) *Error {
	return &Error{Reason: reason, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Reason, so sentinel-style checks
// like errors.Is(err, &Error{Reason: ReasonMaxRetries}) work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason && t.Op == "" && t.Err == nil
}

// ReasonOf returns the reason of the outermost *Error in err's chain.
// Unclassified errors count as DeliveryFailed.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonDeliveryFailed
}

// Retryable reports whether err may be retried.
func Retryable(err error) bool {
	return err != nil && ReasonOf(err).Retryable()
}

// Terminal marks err with reason unless it already carries a terminal one.
// Handlers use it to skip retries.
func Terminal(reason Reason, err error) error {
	var e *Error
	if errors.As(err, &e) && !e.Reason.Retryable() {
		return err
	}
	return NewError(reason, "", err)
}
