package event

import "fmt"

// Payload is the closed set of event bodies. Only types in this package
// implement it.
type Payload interface {
	Category() Category
	EventAction() Action
	Validate() error
	isPayload()
}

type OrderPayload struct {
	Action     Action `json:"action"`
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId,omitempty"`
	TotalCents int64  `json:"totalCents,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

type PaymentPayload struct {
	Action      Action `json:"action"`
	PaymentID   string `json:"paymentId"`
	OrderID     string `json:"orderId,omitempty"`
	AmountCents int64  `json:"amountCents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type SystemPayload struct {
	Action    Action `json:"action"`
	Component string `json:"component"`
	Message   string `json:"message,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

type UserPayload struct {
	Action Action `json:"action"`
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

func (OrderPayload) Category() Category   { return CategoryOrder }
func (PaymentPayload) Category() Category { return CategoryPayment }
func (SystemPayload) Category() Category  { return CategorySystem }
func (UserPayload) Category() Category    { return CategoryUser }

func (p OrderPayload) EventAction() Action   { return p.Action }
func (p PaymentPayload) EventAction() Action { return p.Action }
func (p SystemPayload) EventAction() Action  { return p.Action }
func (p UserPayload) EventAction() Action    { return p.Action }

func (OrderPayload) isPayload()   {}
func (PaymentPayload) isPayload() {}
func (SystemPayload) isPayload()  {}
func (UserPayload) isPayload()    {}

func (p OrderPayload) Validate() error {
	if err := validateAction(p); err != nil {
		return err
	}
	return requireField(CategoryOrder, "orderId", p.OrderID)
}

func (p PaymentPayload) Validate() error {
	if err := validateAction(p); err != nil {
		return err
	}
	return requireField(CategoryPayment, "paymentId", p.PaymentID)
}

func (p SystemPayload) Validate() error {
	if err := validateAction(p); err != nil {
		return err
	}
	return requireField(CategorySystem, "component", p.Component)
}

func (p UserPayload) Validate() error {
	if err := validateAction(p); err != nil {
		return err
	}
	return requireField(CategoryUser, "userId", p.UserID)
}

func validateAction(p Payload) error {
	if !p.Category().Allows(p.EventAction()) {
		return NewError(ReasonValidationFailed, "validate payload",
			fmt.Errorf("action %q is not allowed for category %q", p.EventAction(), p.Category()))
	}
	return nil
}

func requireField(c Category, field, value string) error {
	if value == "" {
		return NewError(ReasonValidationFailed, "validate payload", fmt.Errorf("%s: %s is required", c, field))
	}
	return nil
}
