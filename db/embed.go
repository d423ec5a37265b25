// Package db embeds the order service schema and the default product catalog.
package db

import _ "embed"

// Schema creates the products, inventory, orders and order_items tables.
// Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// DefaultCatalog is the built-in product catalog with initial stock, used
// when no catalog file is configured.
//
//go:embed seed/catalog.json
var DefaultCatalog []byte
