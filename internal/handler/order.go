package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/worker"
)

// IdempotencyKeyHeader optionally carries the payment idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

// wait blocks until the saga finishes or the request gives up waiting.
func (h *Handler) wait(ctx context.Context, f *worker.Future[*order.Order], err error) (*order.Order, error) {
	if err != nil {
		return nil, err
	}
	if h.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.waitTimeout)
		defer cancel()
	}
	return f.Wait(ctx)
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, code int, o *order.Order, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, code, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// createOrder handles POST /api/orders:
//
//	{"customerId": "...", "shippingAddress": "...",
//	 "items": [{"productId": "...", "quantity": 1}]}
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderRequest
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "customerId":
			v, err := d.Str()
			req.CustomerID = v
			return err
		case "shippingAddress":
			v, err := d.Str()
			req.ShippingAddress = v
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeLineItem(d)
				req.Items = append(req.Items, item)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.orders.CreateOrder(r.Context(), req)
	o, err := h.wait(r.Context(), f, err)
	h.respondOrder(w, r, http.StatusCreated, o, err)
}

func decodeLineItem(d *jx.Decoder) (order.LineItemRequest, error) {
	var item order.LineItemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			v, err := d.Str()
			item.ProductID = v
			return err
		case "quantity":
			v, err := d.Int()
			item.Quantity = v
			return err
		default:
			return d.Skip()
		}
	})
	return item, err
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// updateStatus handles PATCH /api/orders/{id}/status: {"status": "SHIPPED"}.
func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var raw string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := d.Str()
		raw = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := order.ParseStatus(raw)
	if err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	f, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to)
	o, err := h.wait(r.Context(), f, err)
	h.respondOrder(w, r, http.StatusOK, o, err)
}

// processPayment handles POST /api/orders/{id}/payment:
// {"method": "card", "idempotencyKey": "..."}. The key may also be sent in
// the Idempotency-Key header.
func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	req := order.PaymentRequest{
		OrderID:        chi.URLParam(r, "id"),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "method":
			v, err := d.Str()
			req.Method = v
			return err
		case "idempotencyKey":
			v, err := d.Str()
			if v != "" {
				req.IdempotencyKey = v
			}
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.orders.ProcessPayment(r.Context(), req)
	o, err := h.wait(r.Context(), f, err)
	h.respondOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := h.orders.PaymentStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePaymentState(e, id, st) })
}

// cancelOrder handles POST /api/orders/{id}/cancel: {"reason": "..."}.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var reason string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "reason" {
			return d.Skip()
		}
		v, err := d.Str()
		reason = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	f, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), reason)
	o, err := h.wait(r.Context(), f, err)
	h.respondOrder(w, r, http.StatusOK, o, err)
}
