package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/domain/product"
)

func TestOrderRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()

	o := &order.Order{
		ID:     "o-1",
		Status: order.StatusPending,
		Items:  []order.LineItem{{ProductID: "P", Quantity: 2, UnitPrice: decimal.NewFromInt(5)}},
		Total:  decimal.NewFromInt(10),
	}
	require.NoError(t, repo.Save(ctx, o))
	assert.EqualValues(t, 1, o.Version)

	got, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Total))

	// Returned orders are copies.
	got.Items[0].Released = true
	again, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, again.Items[0].Released)
}

func TestOrderRepository_NotFound(t *testing.T) {
	_, err := NewOrderRepository().FindByID(context.Background(), "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_StaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()

	o := &order.Order{ID: "o-1", Status: order.StatusPending}
	require.NoError(t, repo.Save(ctx, o))

	first, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)

	first.Status = order.StatusPaid
	require.NoError(t, repo.Save(ctx, first))

	second.Status = order.StatusCancelled
	require.ErrorIs(t, repo.Save(ctx, second), order.ErrConcurrentModification)

	got, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.EqualValues(t, 2, got.Version)
}

func TestOrderRepository_NewOrderWithVersionRejected(t *testing.T) {
	err := NewOrderRepository().Save(context.Background(), &order.Order{ID: "o-1", Version: 3})
	require.ErrorIs(t, err, order.ErrConcurrentModification)
}

func TestProductRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository([]product.Product{
		{ID: "B", Name: "Bolt", Price: decimal.RequireFromString("0.25")},
		{ID: "A", Name: "Anchor", Price: decimal.RequireFromString("3.10")},
	})

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].ID)

	p, err := repo.GetByID(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "Bolt", p.Name)

	_, err = repo.GetByID(ctx, "C")
	require.ErrorIs(t, err, product.ErrNotFound)
}
