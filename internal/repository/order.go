package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/order-saga/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, customer_id, status, total, currency, payment_id, refund_id,
		shipping_address, notes, version, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, quantity, unit_price, released
		FROM order_items WHERE order_id = $1 ORDER BY position`

	insertOrderSQL = `INSERT INTO orders (id, customer_id, status, total, currency, payment_id, refund_id,
		shipping_address, notes, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`

	updateOrderSQL = `UPDATE orders SET status = $3, total = $4, payment_id = $5, refund_id = $6,
		shipping_address = $7, notes = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $2`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`
)

const pgUniqueViolation = "23505"

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// FindByID returns the order with its line items in creation order.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.Currency, &o.PaymentID, &o.RefundID,
		&o.ShippingAddress, &o.Notes, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(order.ErrNotFound, "order %s", id)
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get items of order %s", id)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.LineItem, error) {
		var li order.LineItem
		err := row.Scan(&li.ProductID, &li.Quantity, &li.UnitPrice, &li.Released)
		return li, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan items of order %s", id)
	}
	o.Items = items
	return &o, nil
}

// Save writes the order and replaces its line items in one transaction.
// A stale Version yields order.ErrConcurrentModification.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if o.Version == 0 {
			_, err := tx.Exec(ctx, insertOrderSQL,
				o.ID, o.CustomerID, o.Status, o.Total, o.Currency, o.PaymentID, o.RefundID,
				o.ShippingAddress, o.Notes, o.CreatedAt, o.UpdatedAt,
			)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return order.ErrConcurrentModification
			}
			if err != nil {
				return errors.Wrap(err, "insert order")
			}
		} else {
			tag, err := tx.Exec(ctx, updateOrderSQL,
				o.ID, o.Version, o.Status, o.Total, o.PaymentID, o.RefundID,
				o.ShippingAddress, o.Notes, o.UpdatedAt,
			)
			if err != nil {
				return errors.Wrap(err, "update order")
			}
			if tag.RowsAffected() == 0 {
				return order.ErrConcurrentModification
			}
		}

		if _, err := tx.Exec(ctx, deleteOrderItemsSQL, o.ID); err != nil {
			return errors.Wrap(err, "delete items")
		}
		if len(o.Items) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "product_id", "quantity", "unit_price", "released"},
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				li := o.Items[i]
				return []any{o.ID, i, li.ProductID, li.Quantity, li.UnitPrice, li.Released}, nil
			}),
		)
		if err != nil {
			return errors.Wrap(err, "copy items")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "save order %s", o.ID)
	}
	o.Version++
	return nil
}
