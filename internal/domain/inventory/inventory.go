// Package inventory defines the stock ledger used to reserve and release
// product quantities while an order moves through its lifecycle.
package inventory

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned for products the ledger does not track.
	ErrNotFound = errors.New("inventory record not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// InsufficientStockError reports a reservation that would drive stock
// below zero. The ledger is left untouched when it is returned.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Ledger tracks available stock per product.
//
// Reserve and Commit are single conditional decrements: either the whole
// quantity is taken or nothing changes. Release is a plain increment and
// callers are responsible for releasing each reservation at most once.
type Ledger interface {
	CheckAvailability(ctx context.Context, productID string, qty int) (bool, error)
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
	Commit(ctx context.Context, productID string, qty int) error
	Available(ctx context.Context, productID string) (int, error)
}

// ValidateQuantity returns ErrInvalidQuantity for qty <= 0.
func ValidateQuantity(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
