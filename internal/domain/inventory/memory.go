package inventory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
)

var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger is a process-local Ledger. Each product counter is updated
// with a compare-and-swap loop, so concurrent reservations of the same
// product never observe or produce negative stock.
type MemoryLedger struct {
	mu     sync.RWMutex
	stocks map[string]*atomic.Int64
}

// NewMemoryLedger creates a ledger seeded with the given stock levels.
func NewMemoryLedger(initial map[string]int) *MemoryLedger {
	l := &MemoryLedger{stocks: make(map[string]*atomic.Int64, len(initial))}
	for id, qty := range initial {
		l.Set(id, qty)
	}
	return l
}

// Set overwrites the stock level of a product, adding it if unknown.
func (l *MemoryLedger) Set(productID string, qty int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.stocks[productID]
	if !ok {
		c = new(atomic.Int64)
		l.stocks[productID] = c
	}
	c.Store(int64(qty))
}

func (l *MemoryLedger) counter(productID string) (*atomic.Int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.stocks[productID]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "product %s", productID)
	}
	return c, nil
}

// CheckAvailability reports whether qty units can currently be reserved.
func (l *MemoryLedger) CheckAvailability(_ context.Context, productID string, qty int) (bool, error) {
	if err := ValidateQuantity(qty); err != nil {
		return false, err
	}
	c, err := l.counter(productID)
	if err != nil {
		return false, err
	}
	return c.Load() >= int64(qty), nil
}

// Reserve takes qty units out of available stock.
func (l *MemoryLedger) Reserve(_ context.Context, productID string, qty int) error {
	return l.take(productID, qty)
}

// Commit makes a deduction final. Stock accounting is identical to Reserve.
func (l *MemoryLedger) Commit(_ context.Context, productID string, qty int) error {
	return l.take(productID, qty)
}

// Release returns qty units to available stock.
func (l *MemoryLedger) Release(_ context.Context, productID string, qty int) error {
	if err := ValidateQuantity(qty); err != nil {
		return err
	}
	c, err := l.counter(productID)
	if err != nil {
		return err
	}
	c.Add(int64(qty))
	return nil
}

// Available returns the current stock level.
func (l *MemoryLedger) Available(_ context.Context, productID string) (int, error) {
	c, err := l.counter(productID)
	if err != nil {
		return 0, err
	}
	return int(c.Load()), nil
}

func (l *MemoryLedger) take(productID string, qty int) error {
	if err := ValidateQuantity(qty); err != nil {
		return err
	}
	c, err := l.counter(productID)
	if err != nil {
		return err
	}
	for {
		cur := c.Load()
		if cur < int64(qty) {
			return &InsufficientStockError{
				ProductID: productID,
				Requested: qty,
				Available: int(cur),
			}
		}
		if c.CompareAndSwap(cur, cur-int64(qty)) {
			return nil
		}
	}
}
