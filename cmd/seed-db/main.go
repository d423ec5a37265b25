package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/order-saga/internal/catalog"
	"github.com/xenking/order-saga/internal/repository"
)

func main() {
	var (
		databaseURL string
		catalogFile string
		keepStock   bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "", "path to catalog JSON file (default: built-in catalog)")
	flag.BoolVar(&keepStock, "keep-stock", false, "only upsert products, leave existing stock levels untouched")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, keepStock); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string, keepStock bool) error {
	slog.Info("reading catalog", slog.String("path", catalogFile))

	cat, err := catalog.Open(catalogFile)
	if err != nil {
		return errors.Wrap(err, "load catalog")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products := repository.NewProductRepository(pool)
	for _, p := range cat.ProductList() {
		if err := products.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	slog.Info("seeded products", slog.Int("count", len(cat.Products)))

	if keepStock {
		return nil
	}

	ledger := repository.NewInventoryLedger(pool)
	for id, qty := range cat.Stock() {
		if err := ledger.SetStock(ctx, id, qty); err != nil {
			return errors.Wrapf(err, "set stock for %s", id)
		}
	}
	slog.Info("seeded stock levels", slog.Int("count", len(cat.Products)))

	return nil
}
