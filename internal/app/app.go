package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/order-saga/internal/catalog"
	"github.com/xenking/order-saga/internal/domain/inventory"
	"github.com/xenking/order-saga/internal/domain/order"
	"github.com/xenking/order-saga/internal/domain/product"
	"github.com/xenking/order-saga/internal/events"
	"github.com/xenking/order-saga/internal/handler"
	"github.com/xenking/order-saga/internal/payment"
	"github.com/xenking/order-saga/internal/redisstore"
	"github.com/xenking/order-saga/internal/repository"
	"github.com/xenking/order-saga/internal/storage/memory"
	"github.com/xenking/order-saga/internal/worker"
	"github.com/xenking/order-saga/pkg/health"
	"github.com/xenking/order-saga/pkg/httpmiddleware"
)

const serviceName = "order-service"

// storage bundles the repositories the sagas run against.
type storage struct {
	orders   order.Repository
	products product.Repository
	ledger   inventory.Ledger
	pinger   health.Pinger
	close    func()
}

func openStorage(ctx context.Context, lg *zap.Logger, cfg *Config) (*storage, error) {
	if cfg.Storage.Driver == DriverMemory {
		cat, err := catalog.Open(cfg.Storage.CatalogFile)
		if err != nil {
			return nil, errors.Wrap(err, "load catalog")
		}
		lg.Info("Using in-memory storage",
			zap.String("catalog", cfg.Storage.CatalogFile),
			zap.Int("products", len(cat.Products)),
		)
		return &storage{
			orders:   memory.NewOrderRepository(),
			products: memory.NewProductRepository(cat.ProductList()),
			ledger:   inventory.NewMemoryLedger(cat.Stock()),
			close:    func() {},
		}, nil
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &storage{
		orders:   repository.NewOrderRepository(pool),
		products: repository.NewProductRepository(pool),
		ledger:   repository.NewInventoryLedger(pool),
		pinger:   pool,
		close:    pool.Close,
	}, nil
}

func newGateway(cfg PaymentConfig) (*payment.Simulator, error) {
	limit, err := cfg.declineAbove()
	if err != nil {
		return nil, err
	}
	return payment.NewSimulator(payment.SimulatorConfig{
		DeclineAbove:   limit,
		DeclineMethods: cfg.DeclineMethods,
	}), nil
}

func newRouter(
	lg *zap.Logger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
	h *handler.Handler,
	healthSvc *health.Health,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.LogRequests(),
	)
	healthSvc.Register(r)
	h.Register(r)
	return r
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("payment_mode", cfg.Payment.Mode),
	)

	store, err := openStorage(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	// Health check service.
	healthSvc := health.New()
	if store.pinger != nil {
		healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(store.pinger))
	}
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Payment gateway behind the idempotent client.
	var idem payment.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redisstore.NewClient(cfg.Redis.Addr)
		defer func() { _ = rdb.Close() }()

		redisStore := redisstore.New(rdb, cfg.Redis.TTL)
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.PingCheck(redisStore))
		idem = redisStore
	} else {
		idem = payment.NewMemoryStore(cfg.Redis.TTL)
	}
	gateway, err := newGateway(cfg.Payment)
	if err != nil {
		return err
	}
	payments, err := payment.NewClient(gateway, idem,
		payment.WithProvider(cfg.Payment.Provider),
		payment.WithTracerProvider(m.TracerProvider()),
		payment.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create payment client")
	}

	// Order events.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Producer: cfg.Kafka.Producer,
		})
		defer func() {
			if err := kp.Close(); err != nil {
				lg.Error("Close event publisher", zap.Error(err))
			}
		}()
		publisher = kp
	}

	// Domain services.
	opts := []order.Option{
		order.WithPublisher(publisher),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithCurrency(cfg.Payment.Currency),
	}
	if cfg.Payment.Mode == PaymentTwoPhase {
		opts = append(opts, order.WithTwoPhasePayment())
	}
	orderService, err := order.NewService(store.orders, store.products, store.ledger, payments, opts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	pool := worker.NewPool(cfg.Workers.Size, cfg.Workers.Queue, lg.Named("worker"))
	pool.Start()
	if cfg.Workers.Queue > 0 {
		healthSvc.Add(health.Readiness, "saga_backlog", time.Second,
			health.BacklogCheck(pool.Pending, cfg.Workers.Queue*9/10))
	}
	dispatcher := order.NewDispatcher(orderService, pool)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.HandlerConfig{WaitTimeout: cfg.WaitTimeout},
		dispatcher,
		store.products,
		store.ledger,
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.WaitTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(lg, m.TracerProvider(), m.MeterProvider(), h, healthSvc),
	}

	// Graceful shutdown: wait for context cancellation, drain HTTP, then let
	// accepted sagas finish before storage is closed.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if err := pool.Shutdown(shutdownCtx); err != nil {
			lg.Error("Worker pool shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
