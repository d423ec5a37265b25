package order

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrCustomerRequired = errors.New("customer id required")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
)

// NotFoundError indicates a referenced order or product does not exist.
// It matches ErrNotFound for orders.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound && e.Resource == "order"
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

func (e *InvalidQuantityError) Unwrap() error {
	return ErrInvalidQuantity
}

// InvalidStateError reports a transition the state machine does not allow.
type InvalidStateError struct {
	From Status
	To   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid order state transition from %s to %s", e.From, e.To)
}

// PaymentError reports a failed payment or refund step. Declined is true
// for business declines; otherwise Err holds the gateway failure, usually
// a *payment.ExternalServiceError.
type PaymentError struct {
	OrderID  string
	Op       string
	Declined bool
	Reason   string
	Err      error
}

func (e *PaymentError) Error() string {
	if e.Declined {
		return fmt.Sprintf("%s for order %s declined: %s", e.Op, e.OrderID, e.Reason)
	}
	return fmt.Sprintf("%s for order %s failed: %v", e.Op, e.OrderID, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// CompensationError reports a saga that failed and could not fully undo
// its own effects. Cause is the original failure; Failures are the
// compensating steps that failed. Both are reachable through errors.Is and
// errors.As.
type CompensationError struct {
	OrderID  string
	Cause    error
	Failures []error
}

func (e *CompensationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "order %s: %v; compensation incomplete:", e.OrderID, e.Cause)
	for i, f := range e.Failures {
		if i > 0 {
			b.WriteString(";")
		}
		b.WriteString(" ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *CompensationError) Unwrap() []error {
	return append([]error{e.Cause}, e.Failures...)
}
