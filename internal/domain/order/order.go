package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by a Repository for unknown order ids.
	ErrNotFound = errors.New("order not found")
	// ErrConcurrentModification is returned by Save when the stored version
	// no longer matches the order being saved.
	ErrConcurrentModification = errors.New("order was modified concurrently")
)

// LineItem is a reserved quantity of one product at the price snapshotted
// when the reservation was made.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	// Released is set once the reserved stock has been returned to the
	// ledger, so a retried compensation never releases it twice.
	Released bool
}

// Subtotal returns Quantity × UnitPrice.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Order is a customer order moving through the fulfillment state machine.
//
// Total is derived from Items and only changes when items are added.
type Order struct {
	ID              string
	CustomerID      string
	Items           []LineItem
	Status          Status
	Total           decimal.Decimal
	Currency        string
	PaymentID       string
	RefundID        string
	ShippingAddress string
	Notes           string
	// Version is the optimistic concurrency token. Zero means the order has
	// never been saved.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the order to the given status if the state machine
// allows it. On failure the order is left unchanged.
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &InvalidStateError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// AddItem appends a line item and recomputes the total. Items can only be
// added while the order is PENDING.
func (o *Order) AddItem(productID string, qty int, unitPrice decimal.Decimal, now time.Time) error {
	if o.Status != StatusPending {
		return errors.Errorf("add item to %s order", o.Status)
	}
	if qty <= 0 {
		return &InvalidQuantityError{ProductID: productID}
	}
	o.Items = append(o.Items, LineItem{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: unitPrice,
	})
	o.recomputeTotal()
	o.UpdatedAt = now
	return nil
}

func (o *Order) recomputeTotal() {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.Subtotal())
	}
	o.Total = total
}

// Unreleased returns the indexes of items whose stock is still held.
func (o *Order) Unreleased() []int {
	var idx []int
	for i, li := range o.Items {
		if !li.Released {
			idx = append(idx, i)
		}
	}
	return idx
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}

// Repository persists orders.
//
// Save inserts orders with Version zero and otherwise updates only if the
// stored version equals o.Version, failing with ErrConcurrentModification
// when it does not. A successful Save increments o.Version.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Order, error)
	Save(ctx context.Context, o *Order) error
}
