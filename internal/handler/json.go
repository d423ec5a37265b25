package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/payment"
)

const (
	maxBodySize = 1 << 20
	timeLayout  = time.RFC3339Nano
)

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// decodeObject decodes a JSON object body field by field. An empty body is
// treated as an empty object.
func decodeObject(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	if len(body) == 0 {
		return nil
	}
	if err := jx.DecodeBytes(body).Obj(field); err != nil {
		return errors.Wrap(errBadRequest, err.Error())
	}
	return nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerId")
	e.Str(o.CustomerID)
	e.FieldStart("status")
	e.Str(string(o.Status))

	e.FieldStart("items")
	e.ArrStart()
	for _, li := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(li.ProductID)
		e.FieldStart("quantity")
		e.Int(li.Quantity)
		e.FieldStart("unitPrice")
		e.Str(li.UnitPrice.StringFixed(2))
		e.FieldStart("subtotal")
		e.Str(li.Subtotal().StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("total")
	e.Str(o.Total.StringFixed(2))
	e.FieldStart("currency")
	e.Str(o.Currency)
	if o.PaymentID != "" {
		e.FieldStart("paymentId")
		e.Str(o.PaymentID)
	}
	if o.RefundID != "" {
		e.FieldStart("refundId")
		e.Str(o.RefundID)
	}
	if o.ShippingAddress != "" {
		e.FieldStart("shippingAddress")
		e.Str(o.ShippingAddress)
	}
	if o.Notes != "" {
		e.FieldStart("notes")
		e.Str(o.Notes)
	}
	e.FieldStart("version")
	e.Int64(o.Version)
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(timeLayout))
	e.FieldStart("updatedAt")
	e.Str(o.UpdatedAt.UTC().Format(timeLayout))
	e.ObjEnd()
}

func encodePaymentState(e *jx.Encoder, orderID string, st *payment.PaymentState) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(orderID)
	e.FieldStart("paymentId")
	e.Str(st.ID)
	e.FieldStart("status")
	e.Str(string(st.Status))
	e.FieldStart("amount")
	e.Str(st.Amount.StringFixed(2))
	if st.RefundID != "" {
		e.FieldStart("refundId")
		e.Str(st.RefundID)
	}
	e.ObjEnd()
}
