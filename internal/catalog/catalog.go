// Package catalog loads the product catalog and opening stock levels from
// a JSON file or the built-in copy.
package catalog

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-saga/db"
	"github.com/xenking/order-saga/internal/domain/product"
)

// Entry is one catalog product with its opening stock.
type Entry struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
	Stock    int             `json:"stock"`
}

// Catalog is the parsed catalog file.
type Catalog struct {
	Products []Entry `json:"products"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	c, err := Parse(bytes.NewReader(db.DefaultCatalog))
	if err != nil {
		return nil, errors.Wrap(err, "built-in catalog")
	}
	return c, nil
}

// Open loads the catalog at path, or the built-in one if path is empty.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return Load(path)
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	c, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog %s", path)
	}
	return c, nil
}

// Parse decodes and validates a catalog.
func Parse(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids are present and unique, and prices and stock are
// non-negative.
func (c *Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Products))
	for i, e := range c.Products {
		if e.ID == "" {
			return errors.Errorf("product #%d: id is required", i)
		}
		if _, dup := seen[e.ID]; dup {
			return errors.Errorf("product %s: duplicate id", e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.Price.IsNegative() {
			return errors.Errorf("product %s: negative price", e.ID)
		}
		if e.Stock < 0 {
			return errors.Errorf("product %s: negative stock", e.ID)
		}
	}
	return nil
}

// ProductList returns the catalog products without stock.
func (c *Catalog) ProductList() []product.Product {
	out := make([]product.Product, len(c.Products))
	for i, e := range c.Products {
		out[i] = product.Product{
			ID:       e.ID,
			Name:     e.Name,
			Price:    e.Price,
			Category: e.Category,
		}
	}
	return out
}

// Stock returns opening stock by product id.
func (c *Catalog) Stock() map[string]int {
	out := make(map[string]int, len(c.Products))
	for _, e := range c.Products {
		out[e.ID] = e.Stock
	}
	return out
}
