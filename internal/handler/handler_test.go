package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/order-saga/internal/domain/inventory"
	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/domain/product"
	"github.com/xenking/order-saga/internal/payment"
	"github.com/xenking/order-saga/internal/storage/memory"
	"github.com/xenking/order-saga/internal/worker"
)

// --- Helpers ---

type testServer struct {
	handler http.Handler
	orders  *memory.OrderRepository
	ledger  *inventory.MemoryLedger
	gateway *payment.Simulator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	orders := memory.NewOrderRepository()
	products := memory.NewProductRepository([]product.Product{
		{ID: "P", Name: "Widget", Price: decimal.RequireFromString("10.00"), Category: "tools"},
		{ID: "Q", Name: "Gizmo", Price: decimal.RequireFromString("4.25"), Category: "tools"},
	})
	ledger := inventory.NewMemoryLedger(map[string]int{"P": 10, "Q": 3})
	sim := payment.NewSimulator(payment.SimulatorConfig{
		DeclineMethods: []string{"declined-card"},
	})
	client, err := payment.NewClient(sim, nil)
	require.NoError(t, err)

	svc, err := order.NewService(orders, products, ledger, client)
	require.NoError(t, err)

	pool := worker.NewPool(2, 8, zaptest.NewLogger(t))
	pool.Start()
	t.Cleanup(func() { require.NoError(t, pool.Shutdown(context.Background())) })

	h := NewHandler(HandlerConfig{}, order.NewDispatcher(svc, pool), products, ledger)
	return &testServer{
		handler: h.Routes(),
		orders:  orders,
		ledger:  ledger,
		gateway: sim,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s *testServer) createOrder(t *testing.T, qty int) string {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/api/orders",
		`{"customerId":"c-1","items":[{"productId":"P","quantity":`+strconv.Itoa(qty)+`}]}`)
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func (s *testServer) stock(t *testing.T, id string) int {
	t.Helper()
	n, err := s.ledger.Available(context.Background(), id)
	require.NoError(t, err)
	return n
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/orders", `{
		"customerId": "c-1",
		"shippingAddress": "1 Main St",
		"items": [{"productId": "P", "quantity": 3}, {"productId": "Q", "quantity": 2}]
	}`)

	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "38.50", body["total"])
	assert.Equal(t, "USD", body["currency"])
	assert.Equal(t, "1 Main St", body["shippingAddress"])
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "30.00", items[0].(map[string]any)["subtotal"])

	assert.Equal(t, 7, s.stock(t, "P"))
	assert.Equal(t, 1, s.stock(t, "Q"))
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"customerId":`, http.StatusBadRequest},
		{"no customer", `{"items":[{"productId":"P","quantity":1}]}`, http.StatusBadRequest},
		{"no items", `{"customerId":"c","items":[]}`, http.StatusBadRequest},
		{"zero quantity", `{"customerId":"c","items":[{"productId":"P","quantity":0}]}`, http.StatusBadRequest},
		{"unknown product", `{"customerId":"c","items":[{"productId":"X","quantity":1}]}`, http.StatusUnprocessableEntity},
		{"insufficient stock", `{"customerId":"c","items":[{"productId":"P","quantity":15}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			code, body := s.do(t, http.MethodPost, "/api/orders", tt.body)
			assert.Equal(t, tt.code, code, body)
			assert.EqualValues(t, tt.code, body["code"])
			assert.Equal(t, 10, s.stock(t, "P"))
		})
	}
}

func TestCreateOrder_InsufficientStockDetails(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/orders",
		`{"customerId":"c","items":[{"productId":"P","quantity":15}]}`)

	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "P", body["productId"])
	assert.EqualValues(t, 15, body["requested"])
	assert.EqualValues(t, 10, body["available"])
}

func TestGetOrder(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)

	code, body := s.do(t, http.MethodGet, "/api/orders/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])

	code, _ = s.do(t, http.MethodGet, "/api/orders/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPayAndCancel(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 3)

	code, body := s.do(t, http.MethodPost, "/api/orders/"+id+"/payment", `{"method":"card"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "PAID", body["status"])
	paymentID := body["paymentId"].(string)

	code, body = s.do(t, http.MethodGet, "/api/orders/"+id+"/payment", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, paymentID, body["paymentId"])
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "30.00", body["amount"])

	code, body = s.do(t, http.MethodPost, "/api/orders/"+id+"/payment", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "PAID", body["from"])

	code, body = s.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", `{"reason":"customer request"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.Equal(t, "customer request", body["notes"])
	assert.NotEmpty(t, body["refundId"])
	assert.Equal(t, 10, s.stock(t, "P"))

	_, body = s.do(t, http.MethodGet, "/api/orders/"+id+"/payment", "")
	assert.Equal(t, "REFUNDED", body["status"])
}

func TestProcessPayment_Declined(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)

	code, body := s.do(t, http.MethodPost, "/api/orders/"+id+"/payment", `{"method":"declined-card"}`)
	assert.Equal(t, http.StatusPaymentRequired, code, body)

	_, body = s.do(t, http.MethodGet, "/api/orders/"+id, "")
	assert.Equal(t, "PENDING", body["status"])
}

func TestProcessPayment_GatewayDown(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)
	s.gateway.SetUnavailable(true)

	code, body := s.do(t, http.MethodPost, "/api/orders/"+id+"/payment", "")
	assert.Equal(t, http.StatusBadGateway, code, body)
}

func TestProcessPayment_HeaderKey(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/orders/"+id+"/payment", nil)
	req.Header.Set(IdempotencyKeyHeader, "client-key-1")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestPaymentStatus_NoPayment(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)

	code, _ := s.do(t, http.MethodGet, "/api/orders/"+id+"/payment", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCancelOrder_Shipped(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)
	_, _ = s.do(t, http.MethodPost, "/api/orders/"+id+"/payment", "")
	for _, st := range []string{"PROCESSING", "SHIPPED"} {
		code, body := s.do(t, http.MethodPatch, "/api/orders/"+id+"/status", `{"status":"`+st+`"}`)
		require.Equal(t, http.StatusOK, code, body)
	}

	code, body := s.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", `{"reason":"late"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SHIPPED", body["from"])
	assert.Equal(t, "CANCELLED", body["to"])
}

func TestUpdateStatus_Errors(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t, 1)

	code, _ := s.do(t, http.MethodPatch, "/api/orders/"+id+"/status", `{"status":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPatch, "/api/orders/"+id+"/status", `{"status":"DELIVERED"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPatch, "/api/orders/missing/status", `{"status":"PAID"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInventory(t *testing.T) {
	s := newTestServer(t)
	s.createOrder(t, 4)

	code, body := s.do(t, http.MethodGet, "/api/inventory/P", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 6, body["available"])

	code, _ = s.do(t, http.MethodGet, "/api/inventory/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListProducts(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "P", products[0]["id"])
	assert.Equal(t, "10.00", products[0]["price"])
}

func TestErrorStatus(t *testing.T) {
	comp := &order.CompensationError{
		OrderID: "o",
		Cause:   &inventory.InsufficientStockError{ProductID: "P"},
	}
	assert.Equal(t, http.StatusInternalServerError, errorStatus(comp))
	assert.Equal(t, http.StatusConflict, errorStatus(order.ErrConcurrentModification))
	assert.Equal(t, http.StatusServiceUnavailable, errorStatus(worker.ErrClosed))
	assert.Equal(t, http.StatusGatewayTimeout, errorStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadGateway, errorStatus(&order.PaymentError{
		Op: "refund", Err: &payment.ExternalServiceError{Provider: "p", Reason: "r"},
	}))
}
