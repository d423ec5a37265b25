// Package handler exposes the order sagas over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/order-saga/internal/domain/inventory"
	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/domain/product"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// WaitTimeout bounds how long a request waits for its saga. The saga
	// itself keeps running after the timeout. Zero means no bound beyond
	// the request context.
	WaitTimeout time.Duration
}

// Handler serves the order API, delegating every saga to the dispatcher.
type Handler struct {
	orders      *order.Dispatcher
	products    product.Repository
	ledger      inventory.Ledger
	waitTimeout time.Duration
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	orders *order.Dispatcher,
	products product.Repository,
	ledger inventory.Ledger,
) *Handler {
	return &Handler{
		orders:      orders,
		products:    products,
		ledger:      ledger,
		waitTimeout: cfg.WaitTimeout,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Post("/orders/{id}/payment", h.processPayment)
		r.Get("/orders/{id}/payment", h.paymentStatus)
		r.Post("/orders/{id}/cancel", h.cancelOrder)

		r.Get("/products", h.listProducts)
		r.Get("/inventory/{productID}", h.getInventory)
	})
}

// Routes returns a router serving only the API routes.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}
