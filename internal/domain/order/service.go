package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/order-saga/internal/domain/inventory"
	"github.com/xenking/order-saga/internal/domain/product"
	"github.com/xenking/order-saga/internal/events"
	"github.com/xenking/order-saga/internal/payment"
)

const instrumentationName = "github.com/xenking/order-saga/internal/domain/order"

// LineItemRequest asks for Quantity units of a product.
type LineItemRequest struct {
	ProductID string
	Quantity  int
}

// CreateOrderRequest holds the input for creating an order.
type CreateOrderRequest struct {
	CustomerID      string
	Items           []LineItemRequest
	ShippingAddress string
}

// PaymentRequest holds the input for paying an order. The gateway key is
// always derived from the order id; IdempotencyKey, when set, is appended
// to it. Repeated attempts for one order never charge twice.
type PaymentRequest struct {
	OrderID        string
	Method         string
	IdempotencyKey string
}

// Service runs the order sagas: creation with stock reservation, payment
// and compensating cancellation.
//
// Operations on one order are serialized; different orders proceed
// concurrently. Every operation re-reads the order before validating it.
type Service struct {
	orders    Repository
	products  product.Repository
	ledger    inventory.Ledger
	payments  payment.Gateway
	publisher events.Publisher

	locks    *keyedMutex
	now      func() time.Time
	currency string
	twoPhase bool

	tracer        trace.Tracer
	outcomes      metric.Int64Counter
	compensations metric.Int64Counter
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	publisher      events.Publisher
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
	currency       string
	twoPhase       bool
}

// WithPublisher sets where lifecycle events are sent.
func WithPublisher(p events.Publisher) Option {
	return func(o *serviceOptions) { o.publisher = p }
}

// WithTracerProvider sets the tracer provider for saga spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider for saga metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.meterProvider = mp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithCurrency sets the currency of new orders.
func WithCurrency(c string) Option {
	return func(o *serviceOptions) { o.currency = c }
}

// WithTwoPhasePayment charges through authorize and capture instead of a
// single ProcessPayment call.
func WithTwoPhasePayment() Option {
	return func(o *serviceOptions) { o.twoPhase = true }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	products product.Repository,
	ledger inventory.Ledger,
	payments payment.Gateway,
	opts ...Option,
) (*Service, error) {
	o := serviceOptions{
		publisher:      events.Nop{},
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		now:            time.Now,
		currency:       "USD",
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	outcomes, err := meter.Int64Counter("order.saga.outcomes",
		metric.WithDescription("Completed order sagas by saga and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create outcomes counter")
	}
	compensations, err := meter.Int64Counter("order.saga.compensations",
		metric.WithDescription("Compensating actions executed by saga"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create compensations counter")
	}

	return &Service{
		orders:        orders,
		products:      products,
		ledger:        ledger,
		payments:      payments,
		publisher:     o.publisher,
		locks:         newKeyedMutex(),
		now:           o.now,
		currency:      o.currency,
		twoPhase:      o.twoPhase,
		tracer:        o.tracerProvider.Tracer(instrumentationName),
		outcomes:      outcomes,
		compensations: compensations,
	}, nil
}

// CreateOrder persists a PENDING order and reserves stock for each item in
// request order. If item k cannot be reserved, items 1..k-1 are released
// and the order is cancelled before the error is returned.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *Order, rerr error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:              uuid.New().String(),
		CustomerID:      req.CustomerID,
		Status:          StatusPending,
		Total:           decimal.Zero,
		Currency:        s.currency,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	ctx, span := s.start(ctx, "create", o.ID)
	defer func() { s.finish(ctx, span, "create", rerr) }()
	lg := zctx.From(ctx)

	unlock := s.locks.Lock(o.ID)
	defer unlock()

	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save order")
	}

	for _, item := range req.Items {
		if err := s.reserveItem(ctx, o, item); err != nil {
			return nil, s.compensateCreate(ctx, o, err)
		}
	}

	lg.Info("Order created",
		zap.Int("items", len(o.Items)),
		zap.Stringer("total", o.Total),
	)
	s.publish(ctx, o, events.OrderCreated, "")
	return o.Clone(), nil
}

func validateCreate(req CreateOrderRequest) error {
	if req.CustomerID == "" {
		return ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	return nil
}

func (s *Service) reserveItem(ctx context.Context, o *Order, item LineItemRequest) error {
	p, err := s.products.GetByID(ctx, item.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return &NotFoundError{Resource: "product", ID: item.ProductID}
		}
		return errors.Wrapf(err, "get product %s", item.ProductID)
	}

	if err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return &NotFoundError{Resource: "product", ID: item.ProductID}
		}
		return errors.Wrapf(err, "reserve %s", item.ProductID)
	}

	if err := o.AddItem(p.ID, item.Quantity, p.Price, s.now()); err != nil {
		if relErr := s.ledger.Release(ctx, item.ProductID, item.Quantity); relErr != nil {
			return &CompensationError{OrderID: o.ID, Cause: err, Failures: []error{relErr}}
		}
		return err
	}
	if err := s.orders.Save(ctx, o); err != nil {
		// The item is on the order, so compensation releases it.
		return errors.Wrap(err, "save order")
	}
	return nil
}

func (s *Service) compensateCreate(ctx context.Context, o *Order, cause error) error {
	lg := zctx.From(ctx)
	lg.Warn("Order creation failed, releasing reservations",
		zap.Error(cause),
		zap.Int("reserved", len(o.Items)),
	)
	s.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("saga", "create")))

	failures := s.releaseItems(ctx, o)
	if len(failures) == 0 {
		if err := o.Transition(StatusCancelled, s.now()); err != nil {
			failures = append(failures, err)
		}
		o.Notes = "creation failed: " + cause.Error()
	}
	if err := s.orders.Save(ctx, o); err != nil {
		failures = append(failures, errors.Wrap(err, "save compensated order"))
	}
	if len(failures) > 0 {
		lg.Error("Compensation incomplete", zap.Errors("failures", failures))
		return &CompensationError{OrderID: o.ID, Cause: cause, Failures: failures}
	}

	s.publish(ctx, o, events.OrderCreationFailed, cause.Error())
	return cause
}

// releaseItems returns held stock for every unreleased item, last item
// first. The items are marked released and saved before the ledger is
// called, so a lost save can leave stock held but never returns it twice.
// Items whose release fails are unmarked; callers persist that.
func (s *Service) releaseItems(ctx context.Context, o *Order) []error {
	idx := o.Unreleased()
	if len(idx) == 0 {
		return nil
	}
	for _, i := range idx {
		o.Items[i].Released = true
	}
	if err := s.orders.Save(ctx, o); err != nil {
		for _, i := range idx {
			o.Items[i].Released = false
		}
		return []error{errors.Wrap(err, "save release marks")}
	}

	var failures []error
	for i := len(idx) - 1; i >= 0; i-- {
		li := &o.Items[idx[i]]
		if err := s.ledger.Release(ctx, li.ProductID, li.Quantity); err != nil {
			failures = append(failures, errors.Wrapf(err, "release %s", li.ProductID))
			li.Released = false
		}
	}
	return failures
}

// GetOrder returns the order with the given id.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.find(ctx, id)
}

// UpdateStatus applies an administrative state-machine transition. It does
// not touch payments or stock.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "update_status", id)
	defer func() { s.finish(ctx, span, "update_status", rerr) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	from := o.Status
	if err := o.Transition(to, s.now()); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save order")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, o, events.OrderStatusChanged, "")
	return o, nil
}

func (s *Service) find(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return o, nil
}

func (s *Service) start(ctx context.Context, saga, orderID string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "order."+saga, trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	ctx = zctx.With(ctx, zap.String("saga", saga), zap.String("order_id", orderID))
	return ctx, span
}

func (s *Service) finish(ctx context.Context, span trace.Span, saga string, err error) {
	defer span.End()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("saga", saga),
		attribute.String("outcome", outcome),
	))
}

func (s *Service) publish(ctx context.Context, o *Order, typ events.Type, reason string) {
	e := events.New(typ, o.ID, s.now())
	e.CustomerID = o.CustomerID
	e.Status = string(o.Status)
	e.Total = o.Total
	e.Reason = reason
	if err := s.publisher.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Failed to publish order event",
			zap.String("event_type", string(typ)),
			zap.Error(err),
		)
	}
}
