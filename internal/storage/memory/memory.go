// Package memory provides in-process order and product repositories for
// single-instance deployments and tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/domain/product"
)

var (
	_ order.Repository   = (*OrderRepository)(nil)
	_ product.Repository = (*ProductRepository)(nil)
)

// OrderRepository stores orders in a map. Stored orders are copies, so
// callers never share state with the repository.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*order.Order)}
}

func (r *OrderRepository) FindByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, errors.Wrapf(order.ErrNotFound, "order %s", id)
	}
	return o.Clone(), nil
}

// Save stores o if its Version matches the stored one, then increments
// o.Version.
func (r *OrderRepository) Save(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stored int64
	if cur, ok := r.orders[o.ID]; ok {
		stored = cur.Version
	}
	if stored != o.Version {
		return errors.Wrapf(order.ErrConcurrentModification,
			"order %s: version %d, stored %d", o.ID, o.Version, stored)
	}

	o.Version++
	r.orders[o.ID] = o.Clone()
	return nil
}

// ProductRepository is a read-only product catalog.
type ProductRepository struct {
	products map[string]product.Product
}

// NewProductRepository returns a repository holding products.
func NewProductRepository(products []product.Product) *ProductRepository {
	m := make(map[string]product.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &ProductRepository{products: m}
}

// List returns all products ordered by ID.
func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b product.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}
