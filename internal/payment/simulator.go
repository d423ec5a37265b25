package payment

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimulatorConfig controls which requests the Simulator declines.
type SimulatorConfig struct {
	// DeclineAbove declines charges and authorizations strictly above this
	// amount. Zero disables the limit.
	DeclineAbove decimal.Decimal
	// DeclineMethods lists payment methods that are always declined.
	DeclineMethods []string
}

type simAuth struct {
	amount   decimal.Decimal
	captured bool
	voided   bool
}

type simPayment struct {
	amount   decimal.Decimal
	refundID string
}

var _ Gateway = (*Simulator)(nil)

// Simulator is an in-process payment processor. It keeps authorizations
// and settled payments in memory and answers a repeated idempotency key
// with the first outcome.
type Simulator struct {
	cfg         SimulatorConfig
	unavailable atomic.Bool

	mu       sync.Mutex
	results  map[string]record
	auths    map[string]*simAuth
	payments map[string]*simPayment
}

// NewSimulator creates a Simulator.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	return &Simulator{
		cfg:      cfg,
		results:  make(map[string]record),
		auths:    make(map[string]*simAuth),
		payments: make(map[string]*simPayment),
	}
}

// SetUnavailable makes every call fail with *ExternalServiceError until
// reset.
func (s *Simulator) SetUnavailable(v bool) {
	s.unavailable.Store(v)
}

func (s *Simulator) declines(amount decimal.Decimal, method string) (string, bool) {
	if slices.Contains(s.cfg.DeclineMethods, method) {
		return "payment method declined", true
	}
	if !s.cfg.DeclineAbove.IsZero() && amount.GreaterThan(s.cfg.DeclineAbove) {
		return "amount exceeds limit", true
	}
	return "", false
}

// call serializes processor state changes and answers repeated keys with
// the first effective outcome. Declines are not remembered, so a retry
// with the same key is a fresh attempt.
func (s *Simulator) call(op, key string, fn func() record) (record, error) {
	if s.unavailable.Load() {
		return record{}, &ExternalServiceError{Provider: "simulator", Reason: op, Err: ErrUnavailable}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := op + ":" + key
	if rec, ok := s.results[k]; ok {
		return rec, nil
	}
	rec := fn()
	if rec.Status.Effective() {
		s.results[k] = rec
	}
	return rec, nil
}

func (s *Simulator) Authorize(_ context.Context, req AuthorizeRequest) (*Authorization, error) {
	rec, err := s.call("authorize", req.IdempotencyKey, func() record {
		if msg, declined := s.declines(req.Amount, req.Method); declined {
			return record{Status: StatusDeclined, Message: msg}
		}
		id := "auth_" + uuid.NewString()
		s.auths[id] = &simAuth{amount: req.Amount}
		return record{ID: id, Status: StatusAuthorized}
	})
	if err != nil {
		return nil, err
	}
	return &Authorization{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

func (s *Simulator) Capture(_ context.Context, req CaptureRequest) (*Capture, error) {
	rec, err := s.call("capture", req.IdempotencyKey, func() record {
		a, ok := s.auths[req.AuthorizationID]
		switch {
		case !ok:
			return record{Status: StatusFailed, Message: "unknown authorization"}
		case a.voided:
			return record{Status: StatusFailed, Message: "authorization voided"}
		case a.captured:
			return record{Status: StatusFailed, Message: "authorization already captured"}
		case req.Amount.GreaterThan(a.amount):
			return record{Status: StatusFailed, Message: "capture exceeds authorized amount"}
		}
		a.captured = true
		id := "pay_" + uuid.NewString()
		s.payments[id] = &simPayment{amount: req.Amount}
		return record{ID: id, Status: StatusCaptured}
	})
	if err != nil {
		return nil, err
	}
	return &Capture{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

func (s *Simulator) Void(_ context.Context, req VoidRequest) (*Void, error) {
	rec, err := s.call("void", req.IdempotencyKey, func() record {
		a, ok := s.auths[req.AuthorizationID]
		switch {
		case !ok:
			return record{Status: StatusFailed, Message: "unknown authorization"}
		case a.captured:
			return record{Status: StatusFailed, Message: "authorization already captured"}
		}
		a.voided = true
		return record{Status: StatusVoided}
	})
	if err != nil {
		return nil, err
	}
	return &Void{Status: rec.Status, Message: rec.Message}, nil
}

func (s *Simulator) Refund(_ context.Context, req RefundRequest) (*Refund, error) {
	rec, err := s.call("refund", req.IdempotencyKey, func() record {
		p, ok := s.payments[req.PaymentID]
		switch {
		case !ok:
			return record{Status: StatusFailed, Message: "unknown payment"}
		case p.refundID != "":
			// Already refunded: answer with the original refund.
			return record{ID: p.refundID, Status: StatusSuccess}
		case req.Amount.GreaterThan(p.amount):
			return record{Status: StatusFailed, Message: "refund exceeds payment amount"}
		}
		p.refundID = "ref_" + uuid.NewString()
		return record{ID: p.refundID, Status: StatusSuccess}
	})
	if err != nil {
		return nil, err
	}
	return &Refund{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

func (s *Simulator) ProcessPayment(_ context.Context, req ChargeRequest) (*Payment, error) {
	rec, err := s.call("process_payment", req.IdempotencyKey, func() record {
		if msg, declined := s.declines(req.Amount, req.Method); declined {
			return record{Status: StatusFailed, Message: msg}
		}
		id := "pay_" + uuid.NewString()
		s.payments[id] = &simPayment{amount: req.Amount}
		return record{ID: id, Status: StatusSuccess}
	})
	if err != nil {
		return nil, err
	}
	return &Payment{ID: rec.ID, Status: rec.Status, Message: rec.Message}, nil
}

func (s *Simulator) PaymentStatus(_ context.Context, paymentID string) (*PaymentState, error) {
	if s.unavailable.Load() {
		return nil, &ExternalServiceError{Provider: "simulator", Reason: "payment_status", Err: ErrUnavailable}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[paymentID]
	if !ok {
		return &PaymentState{ID: paymentID, Status: StatusNotFound}, nil
	}
	st := &PaymentState{ID: paymentID, Status: StatusSuccess, Amount: p.amount, RefundID: p.refundID}
	if p.refundID != "" {
		st.Status = StatusRefunded
	}
	return st, nil
}
