package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/order-saga/internal/events"
	"github.com/xenking/order-saga/internal/payment"
)

// ErrNoPayment is returned when an order carries no payment reference.
var ErrNoPayment = errors.New("order has no payment")

// ProcessPayment charges the order total and moves the order from PENDING
// to PAID. A decline or gateway failure returns *PaymentError and leaves
// the order unchanged.
func (s *Service) ProcessPayment(ctx context.Context, req PaymentRequest) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "pay", req.OrderID)
	defer func() { s.finish(ctx, span, "pay", rerr) }()
	lg := zctx.From(ctx)

	unlock := s.locks.Lock(req.OrderID)
	defer unlock()

	o, err := s.find(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, &InvalidStateError{From: o.Status, To: StatusPaid}
	}

	key := paymentKey(o.ID, req.IdempotencyKey)

	var paymentID string
	if s.twoPhase {
		paymentID, err = s.authorizeAndCapture(ctx, o, req.Method, key)
	} else {
		paymentID, err = s.charge(ctx, o, req.Method, key)
	}
	if err != nil {
		lg.Warn("Payment failed", zap.Error(err))
		s.publish(ctx, o, events.PaymentFailed, err.Error())
		return nil, err
	}

	o.PaymentID = paymentID
	if err := o.Transition(StatusPaid, s.now()); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save paid order")
	}

	lg.Info("Order paid", zap.String("payment_id", paymentID), zap.Stringer("total", o.Total))
	s.publish(ctx, o, events.OrderPaid, "")
	return o, nil
}

// paymentKey scopes a caller key to the order, so a key reused for another
// order never replays this order's charge.
func paymentKey(orderID, callerKey string) string {
	key := "order-payment:" + orderID
	if callerKey != "" {
		key += ":" + callerKey
	}
	return key
}

func (s *Service) charge(ctx context.Context, o *Order, method, key string) (string, error) {
	res, err := s.payments.ProcessPayment(ctx, payment.ChargeRequest{
		OrderID:        o.ID,
		Amount:         o.Total,
		Currency:       o.Currency,
		Method:         method,
		IdempotencyKey: key,
	})
	if err != nil {
		return "", &PaymentError{OrderID: o.ID, Op: "payment", Err: err}
	}
	if res.Status != payment.StatusSuccess {
		return "", declined(o.ID, "payment", res.Message)
	}
	return res.ID, nil
}

func (s *Service) authorizeAndCapture(ctx context.Context, o *Order, method, key string) (string, error) {
	auth, err := s.payments.Authorize(ctx, payment.AuthorizeRequest{
		OrderID:        o.ID,
		Amount:         o.Total,
		Currency:       o.Currency,
		Method:         method,
		IdempotencyKey: key + ":authorize",
	})
	if err != nil {
		return "", &PaymentError{OrderID: o.ID, Op: "authorize", Err: err}
	}
	if auth.Status != payment.StatusAuthorized {
		return "", declined(o.ID, "authorize", auth.Message)
	}

	cp, err := s.payments.Capture(ctx, payment.CaptureRequest{
		AuthorizationID: auth.ID,
		Amount:          o.Total,
		IdempotencyKey:  key + ":capture",
	})
	if err == nil && cp.Status == payment.StatusCaptured {
		return cp.ID, nil
	}

	s.voidAuthorization(ctx, o, auth.ID, key)
	if err != nil {
		return "", &PaymentError{OrderID: o.ID, Op: "capture", Err: err}
	}
	return "", declined(o.ID, "capture", cp.Message)
}

// voidAuthorization releases a hold after a failed capture. A failed void
// is logged; the hold expires at the processor.
func (s *Service) voidAuthorization(ctx context.Context, o *Order, authID, key string) {
	s.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("saga", "pay")))
	v, err := s.payments.Void(ctx, payment.VoidRequest{
		AuthorizationID: authID,
		IdempotencyKey:  key + ":void",
	})
	lg := zctx.From(ctx).With(zap.String("authorization_id", authID))
	switch {
	case err != nil:
		lg.Error("Void after failed capture failed", zap.Error(err))
	case v.Status != payment.StatusVoided:
		lg.Error("Void after failed capture rejected", zap.String("message", v.Message))
	default:
		lg.Info("Authorization voided")
	}
}

func declined(orderID, op, msg string) *PaymentError {
	if msg == "" {
		msg = "declined by processor"
	}
	return &PaymentError{OrderID: orderID, Op: op, Declined: true, Reason: msg}
}

// PaymentStatus returns the processor's view of the order's payment.
func (s *Service) PaymentStatus(ctx context.Context, orderID string) (*payment.PaymentState, error) {
	o, err := s.find(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentID == "" {
		return nil, ErrNoPayment
	}
	st, err := s.payments.PaymentStatus(ctx, o.PaymentID)
	if err != nil {
		return nil, &PaymentError{OrderID: o.ID, Op: "payment status", Err: err}
	}
	return st, nil
}
