package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-saga/internal/domain/inventory"
	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/domain/product"
	"github.com/xenking/order-saga/internal/payment"
	"github.com/xenking/order-saga/internal/worker"
)

// errorStatus maps a domain error to its HTTP status code.
func errorStatus(err error) int {
	var (
		compErr  *order.CompensationError
		nfErr    *order.NotFoundError
		iqErr    *order.InvalidQuantityError
		stockErr *inventory.InsufficientStockError
		stateErr *order.InvalidStateError
		payErr   *order.PaymentError
		extErr   *payment.ExternalServiceError
	)

	switch {
	// Checked first: it also unwraps to the failure that triggered it.
	case errors.As(err, &compErr):
		return http.StatusInternalServerError
	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrCustomerRequired),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.As(err, &iqErr):
		return http.StatusBadRequest
	case errors.As(err, &nfErr):
		if nfErr.Resource == "product" {
			return http.StatusUnprocessableEntity
		}
		return http.StatusNotFound
	case errors.Is(err, order.ErrNoPayment),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &stockErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stateErr),
		errors.Is(err, order.ErrConcurrentModification):
		return http.StatusConflict
	case errors.As(err, &payErr) && payErr.Declined:
		return http.StatusPaymentRequired
	case errors.As(err, &extErr):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the error response body:
//
//	{"code": 422, "message": "...", ...details}
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError && code != http.StatusBadGateway {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", code),
			zap.Error(err),
		)
		if code == http.StatusInternalServerError {
			msg = http.StatusText(code)
			var compErr *order.CompensationError
			if errors.As(err, &compErr) {
				msg = "order " + compErr.OrderID + " could not be fully rolled back"
			}
		}
	}

	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(msg)

		var (
			stockErr *inventory.InsufficientStockError
			stateErr *order.InvalidStateError
		)
		switch {
		case code == http.StatusUnprocessableEntity && errors.As(err, &stockErr):
			e.FieldStart("productId")
			e.Str(stockErr.ProductID)
			e.FieldStart("requested")
			e.Int(stockErr.Requested)
			e.FieldStart("available")
			e.Int(stockErr.Available)
		case code == http.StatusConflict && errors.As(err, &stateErr):
			e.FieldStart("from")
			e.Str(string(stateErr.From))
			e.FieldStart("to")
			e.Str(string(stateErr.To))
		}
		e.ObjEnd()
	})
}
