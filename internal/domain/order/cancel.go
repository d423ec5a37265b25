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

var (
	// ErrReleaseIncomplete is the cause of a cancellation that refunded the
	// order but could not return all of its stock.
	ErrReleaseIncomplete = errors.New("stock release incomplete")
	// ErrCancelNotRecorded is the cause of a cancellation whose refund and
	// release went through but whose final status could not be saved.
	ErrCancelNotRecorded = errors.New("cancellation not recorded")
)

// CancelOrder cancels an order, undoing its effects in a fixed order:
// refund a paid order, release its stock, then move it to CANCELLED with
// reason recorded in Notes.
//
// A failed refund aborts with *PaymentError and the order keeps its status.
// A failed release, or a failed final save, keeps the status too and
// returns *CompensationError. Progress is saved before stock is returned,
// so calling CancelOrder again neither refunds nor releases twice.
func (s *Service) CancelOrder(ctx context.Context, id, reason string) (_ *Order, rerr error) {
	ctx, span := s.start(ctx, "cancel", id)
	defer func() { s.finish(ctx, span, "cancel", rerr) }()
	lg := zctx.From(ctx)

	unlock := s.locks.Lock(id)
	defer unlock()

	o, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, &InvalidStateError{From: o.Status, To: StatusCancelled}
	}

	prior := o.Status
	if prior == StatusPaid && o.PaymentID != "" && o.RefundID == "" {
		refundID, err := s.refund(ctx, o, reason)
		if err != nil {
			lg.Warn("Refund failed, cancellation aborted", zap.Error(err))
			return nil, err
		}
		o.RefundID = refundID
		s.compensations.Add(ctx, 1, metric.WithAttributes(attribute.String("saga", "cancel")))
	}

	if prior == StatusPending || prior == StatusPaid {
		if failures := s.releaseItems(ctx, o); len(failures) > 0 {
			if err := s.orders.Save(ctx, o); err != nil {
				failures = append(failures, errors.Wrap(err, "save release progress"))
			}
			lg.Error("Cancellation incomplete", zap.Errors("failures", failures))
			return nil, &CompensationError{OrderID: o.ID, Cause: ErrReleaseIncomplete, Failures: failures}
		}
	}

	if err := o.Transition(StatusCancelled, s.now()); err != nil {
		return nil, err
	}
	o.Notes = reason
	if err := s.orders.Save(ctx, o); err != nil {
		err = errors.Wrap(err, "save cancelled order")
		if prior == StatusProcessing {
			return nil, err
		}
		lg.Error("Cancellation not recorded", zap.Error(err))
		return nil, &CompensationError{OrderID: o.ID, Cause: ErrCancelNotRecorded, Failures: []error{err}}
	}

	lg.Info("Order cancelled",
		zap.String("from", string(prior)),
		zap.String("refund_id", o.RefundID),
	)
	s.publish(ctx, o, events.OrderCancelled, reason)
	return o, nil
}

func (s *Service) refund(ctx context.Context, o *Order, reason string) (string, error) {
	res, err := s.payments.Refund(ctx, payment.RefundRequest{
		PaymentID:      o.PaymentID,
		Amount:         o.Total,
		Reason:         reason,
		IdempotencyKey: "order-refund:" + o.ID,
	})
	if err != nil {
		return "", &PaymentError{OrderID: o.ID, Op: "refund", Err: err}
	}
	if res.Status != payment.StatusSuccess {
		return "", declined(o.ID, "refund", res.Message)
	}
	return res.ID, nil
}
