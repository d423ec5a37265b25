// Package events publishes order lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type names an order lifecycle event.
type Type string

const (
	OrderCreated        Type = "OrderCreated"
	OrderCreationFailed Type = "OrderCreationFailed"
	OrderPaid           Type = "OrderPaid"
	PaymentFailed       Type = "PaymentFailed"
	OrderCancelled      Type = "OrderCancelled"
	OrderStatusChanged  Type = "OrderStatusChanged"
)

// Version of the envelope layout written by Encode.
const Version = 1

// Event is a single order lifecycle fact.
type Event struct {
	ID         string
	Type       Type
	OrderID    string
	CustomerID string
	Status     string
	Total      decimal.Decimal
	Reason     string
	OccurredAt time.Time
}

// New returns an event with a fresh id stamped at now.
func New(typ Type, orderID string, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OrderID:    orderID,
		OccurredAt: now.UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Encode writes e as a JSON envelope:
//
//	{"event_id":..., "event_type":..., "event_version":1, "occurred_at":...,
//	 "producer":..., "correlation_id":<order id>, "payload":{...}}
func Encode(e Event, producer string) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("event_id")
	w.Str(e.ID)
	w.FieldStart("event_type")
	w.Str(string(e.Type))
	w.FieldStart("event_version")
	w.Int(Version)
	w.FieldStart("occurred_at")
	w.Str(e.OccurredAt.Format(time.RFC3339Nano))
	w.FieldStart("producer")
	w.Str(producer)
	w.FieldStart("correlation_id")
	w.Str(e.OrderID)

	w.FieldStart("payload")
	w.ObjStart()
	w.FieldStart("order_id")
	w.Str(e.OrderID)
	if e.CustomerID != "" {
		w.FieldStart("customer_id")
		w.Str(e.CustomerID)
	}
	if e.Status != "" {
		w.FieldStart("status")
		w.Str(e.Status)
	}
	w.FieldStart("total")
	w.Str(e.Total.StringFixed(2))
	if e.Reason != "" {
		w.FieldStart("reason")
		w.Str(e.Reason)
	}
	w.ObjEnd()

	w.ObjEnd()
	return w.Bytes()
}
