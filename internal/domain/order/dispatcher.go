package order

import (
	"context"

	"github.com/xenking/order-saga/internal/payment"
	"github.com/xenking/order-saga/internal/worker"
)

// Dispatcher runs each saga as one job on a worker pool and returns a
// Future for its outcome. A dispatched saga runs to completion even if the
// caller stops waiting.
type Dispatcher struct {
	svc  *Service
	pool *worker.Pool
}

// NewDispatcher creates a Dispatcher. The pool lifecycle is owned by the
// caller.
func NewDispatcher(svc *Service, pool *worker.Pool) *Dispatcher {
	return &Dispatcher{svc: svc, pool: pool}
}

// CreateOrder dispatches Service.CreateOrder.
func (d *Dispatcher) CreateOrder(ctx context.Context, req CreateOrderRequest) (*worker.Future[*Order], error) {
	return worker.Go(ctx, d.pool, func(ctx context.Context) (*Order, error) {
		return d.svc.CreateOrder(ctx, req)
	})
}

// ProcessPayment dispatches Service.ProcessPayment.
func (d *Dispatcher) ProcessPayment(ctx context.Context, req PaymentRequest) (*worker.Future[*Order], error) {
	return worker.Go(ctx, d.pool, func(ctx context.Context) (*Order, error) {
		return d.svc.ProcessPayment(ctx, req)
	})
}

// CancelOrder dispatches Service.CancelOrder.
func (d *Dispatcher) CancelOrder(ctx context.Context, id, reason string) (*worker.Future[*Order], error) {
	return worker.Go(ctx, d.pool, func(ctx context.Context) (*Order, error) {
		return d.svc.CancelOrder(ctx, id, reason)
	})
}

// UpdateStatus dispatches Service.UpdateStatus.
func (d *Dispatcher) UpdateStatus(ctx context.Context, id string, to Status) (*worker.Future[*Order], error) {
	return worker.Go(ctx, d.pool, func(ctx context.Context) (*Order, error) {
		return d.svc.UpdateStatus(ctx, id, to)
	})
}

// GetOrder reads synchronously; lookups are not sagas.
func (d *Dispatcher) GetOrder(ctx context.Context, id string) (*Order, error) {
	return d.svc.GetOrder(ctx, id)
}

// PaymentStatus reads synchronously.
func (d *Dispatcher) PaymentStatus(ctx context.Context, orderID string) (*payment.PaymentState, error) {
	return d.svc.PaymentStatus(ctx, orderID)
}
