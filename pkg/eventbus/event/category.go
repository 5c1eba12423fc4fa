package event

import (
	"fmt"
	"strings"
)

// Category is the payload tag of a DomainEvent.
type Category string

const (
	CategoryOrder   Category = "order"
	CategoryPayment Category = "payment"
	CategorySystem  Category = "system"
	CategoryUser    Category = "user"
)

// Action is the category-specific verb of a DomainEvent.
type Action string

const (
	ActionOrderPlaced    Action = "placed"
	ActionOrderPaid      Action = "paid"
	ActionOrderShipped   Action = "shipped"
	ActionOrderCancelled Action = "cancelled"

	ActionPaymentAuthorized Action = "authorized"
	ActionPaymentCaptured   Action = "captured"
	ActionPaymentFailed     Action = "failed"
	ActionPaymentRefunded   Action = "refunded"

	ActionSystemStarted     Action = "started"
	ActionSystemStopped     Action = "stopped"
	ActionSystemMaintenance Action = "maintenance"
	ActionSystemAlert       Action = "alert"

	ActionUserCreated  Action = "created"
	ActionUserUpdated  Action = "updated"
	ActionUserDeleted  Action = "deleted"
	ActionUserLoggedIn Action = "logged_in"
)

// WildcardEventType matches every event type.
const WildcardEventType = "*"

var actions = map[Category][]Action{
	CategoryOrder:   {ActionOrderPlaced, ActionOrderPaid, ActionOrderShipped, ActionOrderCancelled},
	CategoryPayment: {ActionPaymentAuthorized, ActionPaymentCaptured, ActionPaymentFailed, ActionPaymentRefunded},
	CategorySystem:  {ActionSystemStarted, ActionSystemStopped, ActionSystemMaintenance, ActionSystemAlert},
	CategoryUser:    {ActionUserCreated, ActionUserUpdated, ActionUserDeleted, ActionUserLoggedIn},
}

// Categories lists every category in a stable order.
func Categories() []Category {
	return []Category{CategoryOrder, CategoryPayment, CategorySystem, CategoryUser}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := actions[c]
	return ok
}

// Allows reports whether a belongs to the action table of c.
func (c Category) Allows(a Action) bool {
	for _, known := range actions[c] {
		if known == a {
			return true
		}
	}
	return false
}

// Type returns the "<category>.<action>" event type.
func Type(c Category, a Action) string {
	return string(c) + "." + string(a)
}

// ParseEventType accepts "<category>.<action>", a bare "<category>" matching
// every action of it, or WildcardEventType. An empty action means any.
func ParseEventType(eventType string) (Category, Action, error) {
	if eventType == WildcardEventType {
		return "", "", nil
	}

	c, a, hasAction := strings.Cut(eventType, ".")
	category := Category(c)
	if !category.Valid() {
		return "", "", NewError(ReasonValidationFailed, "parse event type", fmt.Errorf("unknown category %q", c))
	}
	if !hasAction {
		return category, "", nil
	}
	action := Action(a)
	if !category.Allows(action) {
		return "", "", NewError(ReasonValidationFailed, "parse event type", fmt.Errorf("unknown action %q for category %q", a, c))
	}
	return category, action, nil
}
