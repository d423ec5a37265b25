// Package payment holds the client side of the external payment processor:
// the Gateway contract, an idempotent instrumented Client wrapper and an
// in-process Simulator.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Status is the outcome reported by the processor for a single call.
type Status string

const (
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusAuthorized Status = "AUTHORIZED"
	StatusDeclined   Status = "DECLINED"
	StatusCaptured   Status = "CAPTURED"
	StatusVoided     Status = "VOIDED"
	StatusRefunded   Status = "REFUNDED"
	StatusNotFound   Status = "NOT_FOUND"
)

// Effective reports whether the status means money moved or was held.
// Only effective outcomes are replayed for a repeated idempotency key.
func (s Status) Effective() bool {
	switch s {
	case StatusSuccess, StatusAuthorized, StatusCaptured, StatusVoided:
		return true
	default:
		return false
	}
}

// AuthorizeRequest places a hold for Amount on the customer's method.
type AuthorizeRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	IdempotencyKey string
}

// Authorization is the result of an Authorize call.
type Authorization struct {
	ID      string
	Status  Status
	Message string
}

// CaptureRequest settles a previously authorized hold.
type CaptureRequest struct {
	AuthorizationID string
	Amount          decimal.Decimal
	IdempotencyKey  string
}

// Capture is the result of a Capture call.
type Capture struct {
	ID      string
	Status  Status
	Message string
}

// VoidRequest cancels an uncaptured authorization.
type VoidRequest struct {
	AuthorizationID string
	IdempotencyKey  string
}

// Void is the result of a Void call.
type Void struct {
	Status  Status
	Message string
}

// RefundRequest returns Amount of a settled payment to the customer.
type RefundRequest struct {
	PaymentID      string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// Refund is the result of a Refund call.
type Refund struct {
	ID      string
	Status  Status
	Message string
}

// ChargeRequest is a single-phase authorize-and-capture.
type ChargeRequest struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	IdempotencyKey string
}

// Payment is the result of a ProcessPayment call.
type Payment struct {
	ID      string
	Status  Status
	Message string
}

// PaymentState is the processor's current view of a settled payment.
type PaymentState struct {
	ID       string
	Status   Status
	Amount   decimal.Decimal
	RefundID string
}

// Gateway is the external payment processor. Every call carries an
// idempotency key; repeating a key must not repeat the effect.
//
// A business decline is a successful call with a negative Status. Transport
// and processor failures are returned as *ExternalServiceError.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	Capture(ctx context.Context, req CaptureRequest) (*Capture, error)
	Void(ctx context.Context, req VoidRequest) (*Void, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
	ProcessPayment(ctx context.Context, req ChargeRequest) (*Payment, error)
	PaymentStatus(ctx context.Context, paymentID string) (*PaymentState, error)
}
