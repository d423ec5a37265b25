package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMissingIdempotencyKey is returned for calls without a key.
var ErrMissingIdempotencyKey = errors.New("idempotency key is required")

var _ Gateway = (*Client)(nil)

// Client wraps a Gateway with idempotent replay, call collapsing and
// instrumentation.
//
// Effective outcomes are remembered in the IdempotencyStore under the
// operation and key, so a retried call returns the first result without
// reaching the processor. Declines and failures are not remembered.
// Concurrent calls with the same key share a single processor round trip.
type Client struct {
	gw       Gateway
	store    IdempotencyStore
	provider string

	group  singleflight.Group
	tracer trace.Tracer
	calls  metric.Int64Counter
	dur    metric.Float64Histogram
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	provider       string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithProvider sets the provider name reported in errors and telemetry.
func WithProvider(name string) ClientOption {
	return func(o *clientOptions) { o.provider = name }
}

// WithTracerProvider sets the tracer provider used for call spans.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider used for call metrics.
func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(o *clientOptions) { o.meterProvider = mp }
}

// NewClient wraps gw. A nil store selects a process-local MemoryStore.
func NewClient(gw Gateway, store IdempotencyStore, opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		provider:       "payment-gateway",
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if store == nil {
		store = NewMemoryStore(DefaultIdempotencyTTL)
	}

	meter := o.meterProvider.Meter("github.com/xenking/order-saga/internal/payment")
	calls, err := meter.Int64Counter("payment.gateway.calls",
		metric.WithDescription("Payment gateway calls by operation and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create calls counter")
	}
	dur, err := meter.Float64Histogram("payment.gateway.duration",
		metric.WithDescription("Payment gateway call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return &Client{
		gw:       gw,
		store:    store,
		provider: o.provider,
		tracer:   o.tracerProvider.Tracer("github.com/xenking/order-saga/internal/payment"),
		calls:    calls,
		dur:      dur,
	}, nil
}

// Authorize places a hold on the customer's payment method.
func (c *Client) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	rec, err := c.do(ctx, "authorize", req.IdempotencyKey, func(ctx context.Context) (record, error) {
		res, err := c.gw.Authorize(ctx, req)
		if err != nil {
			return record{}, err
		}
		return record{ID: res.ID, Status: res.Status, Message: res.Message}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Authorization{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

// Capture settles an authorization.
func (c *Client) Capture(ctx context.Context, req CaptureRequest) (*Capture, error) {
	rec, err := c.do(ctx, "capture", req.IdempotencyKey, func(ctx context.Context) (record, error) {
		res, err := c.gw.Capture(ctx, req)
		if err != nil {
			return record{}, err
		}
		return record{ID: res.ID, Status: res.Status, Message: res.Message}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Capture{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

// Void releases an uncaptured authorization.
func (c *Client) Void(ctx context.Context, req VoidRequest) (*Void, error) {
	rec, err := c.do(ctx, "void", req.IdempotencyKey, func(ctx context.Context) (record, error) {
		res, err := c.gw.Void(ctx, req)
		if err != nil {
			return record{}, err
		}
		return record{Status: res.Status, Message: res.Message}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Void{Status: rec.Status, Message: rec.Message}, nil
}

// Refund returns money for a settled payment.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	rec, err := c.do(ctx, "refund", req.IdempotencyKey, func(ctx context.Context) (record, error) {
		res, err := c.gw.Refund(ctx, req)
		if err != nil {
			return record{}, err
		}
		return record{ID: res.ID, Status: res.Status, Message: res.Message}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Refund{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

// ProcessPayment authorizes and captures in one call.
func (c *Client) ProcessPayment(ctx context.Context, req ChargeRequest) (*Payment, error) {
	rec, err := c.do(ctx, "process_payment", req.IdempotencyKey, func(ctx context.Context) (record, error) {
		res, err := c.gw.ProcessPayment(ctx, req)
		if err != nil {
			return record{}, err
		}
		return record{ID: res.ID, Status: res.Status, Message: res.Message}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Payment{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

// PaymentStatus reads the processor's view of a payment. Reads are not
// remembered.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*PaymentState, error) {
	ctx, span := c.tracer.Start(ctx, "payment.payment_status", trace.WithAttributes(
		attribute.String("payment.provider", c.provider),
		attribute.String("payment.id", paymentID),
	))
	defer span.End()

	st, err := c.gw.PaymentStatus(ctx, paymentID)
	if err != nil {
		err = asExternal(c.provider, "payment_status", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, op, key string, call func(context.Context) (record, error)) (_ record, rerr error) {
	if key == "" {
		return record{}, ErrMissingIdempotencyKey
	}

	ctx, span := c.tracer.Start(ctx, "payment."+op, trace.WithAttributes(
		attribute.String("payment.provider", c.provider),
		attribute.String("payment.idempotency_key", key),
	))
	defer span.End()

	lg := zctx.From(ctx).With(
		zap.String("op", op),
		zap.String("idempotency_key", key),
	)
	start := time.Now()
	outcome := "error"
	defer func() {
		attrs := metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcome),
		)
		c.calls.Add(ctx, 1, attrs)
		c.dur.Record(ctx, time.Since(start).Seconds(), attrs)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
	}()

	storeKey := op + ":" + key
	if rec, ok := c.lookup(ctx, lg, storeKey); ok {
		outcome = "replayed"
		span.SetAttributes(attribute.Bool("payment.replayed", true))
		lg.Debug("Replayed payment outcome", zap.String("status", string(rec.Status)))
		return rec, nil
	}

	v, err, shared := c.group.Do(storeKey, func() (any, error) {
		rec, err := call(ctx)
		if err != nil {
			return record{}, asExternal(c.provider, op, err)
		}
		if rec.Status.Effective() {
			if err := c.store.Put(ctx, storeKey, rec.encode()); err != nil {
				lg.Warn("Failed to remember payment outcome", zap.Error(err))
			}
		}
		return rec, nil
	})
	if err != nil {
		lg.Warn("Payment gateway call failed", zap.Error(err))
		return record{}, err
	}

	rec := v.(record)
	outcome = string(rec.Status)
	span.SetAttributes(
		attribute.String("payment.status", outcome),
		attribute.Bool("payment.shared", shared),
	)
	lg.Info("Payment gateway call",
		zap.String("status", outcome),
		zap.String("id", rec.ID),
		zap.Duration("took", time.Since(start)),
	)
	return rec, nil
}

func (c *Client) lookup(ctx context.Context, lg *zap.Logger, key string) (record, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		lg.Warn("Idempotency lookup failed", zap.Error(err))
		return record{}, false
	}
	if !ok {
		return record{}, false
	}
	rec, err := decodeRecord(data)
	if err != nil {
		lg.Warn("Discarding unreadable idempotency record", zap.Error(err))
		return record{}, false
	}
	return rec, true
}
