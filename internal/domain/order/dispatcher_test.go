package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/order-saga/internal/domain/inventory"
	"github.com/xenking/order-saga/internal/worker"
)

func newTestDispatcher(t *testing.T, f *fixture) *Dispatcher {
	t.Helper()
	pool := worker.NewPool(4, 16, zaptest.NewLogger(t))
	pool.Start()
	t.Cleanup(func() { require.NoError(t, pool.Shutdown(context.Background())) })
	return NewDispatcher(f.svc, pool)
}

func TestDispatcher_OrderLifecycle(t *testing.T) {
	f := newFixture(t)
	d := newTestDispatcher(t, f)
	ctx := context.Background()

	created, err := d.CreateOrder(ctx, CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []LineItemRequest{item("P", 3)},
	})
	require.NoError(t, err)
	o, err := created.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, f.ledger.stock(t, "P"))

	paying, err := d.ProcessPayment(ctx, PaymentRequest{OrderID: o.ID})
	require.NoError(t, err)
	paid, err := paying.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Status)

	st, err := d.PaymentStatus(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.PaymentID, st.ID)

	cancelling, err := d.CancelOrder(ctx, o.ID, "changed mind")
	require.NoError(t, err)
	cancelled, err := cancelling.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.ledger.stock(t, "P"))

	got, err := d.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed mind", got.Notes)
}

func TestDispatcher_FutureCarriesSagaError(t *testing.T) {
	f := newFixture(t)
	d := newTestDispatcher(t, f)
	ctx := context.Background()

	fut, err := d.CreateOrder(ctx, CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []LineItemRequest{item("P", 15)},
	})
	require.NoError(t, err)

	_, err = fut.Wait(ctx)
	var isErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, 10, isErr.Available)
}

func TestDispatcher_SagaOutlivesCaller(t *testing.T) {
	f := newFixture(t)
	d := newTestDispatcher(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	fut, err := d.CreateOrder(ctx, CreateOrderRequest{
		CustomerID: "cust-1",
		Items:      []LineItemRequest{item("A", 1), item("B", 1)},
	})
	require.NoError(t, err)
	cancel()

	o, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.Equal(t, 4, f.ledger.stock(t, "A"))
	assert.Equal(t, 4, f.ledger.stock(t, "B"))
}

func TestDispatcher_UpdateStatus(t *testing.T) {
	f := newFixture(t)
	d := newTestDispatcher(t, f)
	ctx := context.Background()
	o := f.createOrder(t, item("P", 1))

	fut, err := d.UpdateStatus(ctx, o.ID, StatusDelivered)
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	var isErr *InvalidStateError
	require.ErrorAs(t, err, &isErr)
}

func TestDispatcher_ClosedPool(t *testing.T) {
	f := newFixture(t)
	pool := worker.NewPool(1, 1, nil)
	pool.Start()
	require.NoError(t, pool.Shutdown(context.Background()))
	d := NewDispatcher(f.svc, pool)

	_, err := d.CreateOrder(context.Background(), CreateOrderRequest{
		CustomerID: "c",
		Items:      []LineItemRequest{item("P", 1)},
	})
	require.ErrorIs(t, err, worker.ErrClosed)
	assert.Equal(t, 10, f.ledger.stock(t, "P"))
}
