package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-saga/internal/domain/inventory"
)

const (
	getStockSQL = `SELECT quantity FROM inventory WHERE product_id = $1`

	takeStockSQL = `UPDATE inventory SET quantity = quantity - $2, updated_at = now()
		WHERE product_id = $1 AND quantity >= $2
		RETURNING quantity`

	releaseStockSQL = `UPDATE inventory SET quantity = quantity + $2, updated_at = now()
		WHERE product_id = $1`

	setStockSQL = `INSERT INTO inventory (product_id, quantity) VALUES ($1, $2)
		ON CONFLICT (product_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`
)

var _ inventory.Ledger = (*InventoryLedger)(nil)

// InventoryLedger implements inventory.Ledger on the inventory table.
// Each reservation is a single conditional UPDATE, so concurrent
// reservations across service instances cannot overdraw stock.
type InventoryLedger struct {
	pool *pgxpool.Pool
}

// NewInventoryLedger returns an InventoryLedger that uses the given pool.
func NewInventoryLedger(pool *pgxpool.Pool) *InventoryLedger {
	return &InventoryLedger{pool: pool}
}

func (l *InventoryLedger) CheckAvailability(ctx context.Context, productID string, qty int) (bool, error) {
	if err := inventory.ValidateQuantity(qty); err != nil {
		return false, err
	}
	n, err := l.Available(ctx, productID)
	if err != nil {
		return false, err
	}
	return n >= qty, nil
}

func (l *InventoryLedger) Reserve(ctx context.Context, productID string, qty int) error {
	return l.take(ctx, productID, qty)
}

func (l *InventoryLedger) Commit(ctx context.Context, productID string, qty int) error {
	return l.take(ctx, productID, qty)
}

func (l *InventoryLedger) Release(ctx context.Context, productID string, qty int) error {
	if err := inventory.ValidateQuantity(qty); err != nil {
		return err
	}
	tag, err := l.pool.Exec(ctx, releaseStockSQL, productID, qty)
	if err != nil {
		return errors.Wrapf(err, "release %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(inventory.ErrNotFound, "product %s", productID)
	}
	return nil
}

func (l *InventoryLedger) Available(ctx context.Context, productID string) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, getStockSQL, productID).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errors.Wrapf(inventory.ErrNotFound, "product %s", productID)
		}
		return 0, errors.Wrapf(err, "get stock %s", productID)
	}
	return n, nil
}

// SetStock overwrites the stock level of a product.
func (l *InventoryLedger) SetStock(ctx context.Context, productID string, qty int) error {
	if _, err := l.pool.Exec(ctx, setStockSQL, productID, qty); err != nil {
		return errors.Wrapf(err, "set stock %s", productID)
	}
	return nil
}

func (l *InventoryLedger) take(ctx context.Context, productID string, qty int) error {
	if err := inventory.ValidateQuantity(qty); err != nil {
		return err
	}

	var left int
	err := l.pool.QueryRow(ctx, takeStockSQL, productID, qty).Scan(&left)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(err, "take stock %s", productID)
	}

	// Nothing was updated: either the product is unknown or stock is short.
	n, err := l.Available(ctx, productID)
	if err != nil {
		return err
	}
	return &inventory.InsufficientStockError{ProductID: productID, Requested: qty, Available: n}
}
