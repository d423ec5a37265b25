package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Payment modes.
const (
	PaymentSingle   = "single"
	PaymentTwoPhase = "two-phase"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     StorageConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Workers     WorkersConfig
	Payment     PaymentConfig
	WaitTimeout time.Duration `default:"30s" usage:"How long a request waits for its saga" flag:"wait-timeout"`
	Graceful    GracefulConfig
}

// StorageConfig selects where orders, products and stock live.
type StorageConfig struct {
	Driver      string `default:"postgres" usage:"Storage driver: postgres or memory"`
	CatalogFile string `usage:"Product catalog loaded by the memory driver, empty uses the built-in one" flag:"catalog-file"`
}

// RedisConfig configures the payment idempotency store. Empty Addr keeps
// idempotency records in process memory.
type RedisConfig struct {
	Addr string        `usage:"Redis address or redis:// URL (ORDERS_REDIS_ADDR or REDIS_URL)"`
	TTL  time.Duration `default:"24h" usage:"Idempotency record lifetime"`
}

// KafkaConfig configures order event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers  []string `usage:"Kafka broker addresses"`
	Topic    string   `default:"order-events" usage:"Order event topic"`
	Producer string   `default:"order-service" usage:"Producer name stamped on events"`
}

// WorkersConfig sizes the saga worker pool.
type WorkersConfig struct {
	Size  int `default:"16" usage:"Number of saga workers"`
	Queue int `default:"256" usage:"Saga queue capacity"`
}

// PaymentConfig configures the simulated payment gateway.
type PaymentConfig struct {
	Mode           string   `default:"single" usage:"Payment flow: single or two-phase"`
	Provider       string   `default:"simulator" usage:"Provider name reported in payment errors"`
	Currency       string   `default:"USD" usage:"Currency of new orders"`
	DeclineAbove   string   `default:"0" usage:"Decline charges above this amount, 0 disables" flag:"decline-above"`
	DeclineMethods []string `usage:"Payment methods the gateway always declines" flag:"decline-methods"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints aconfig cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Payment.Mode {
	case PaymentSingle, PaymentTwoPhase:
	default:
		return errors.Errorf("unknown payment mode %q", c.Payment.Mode)
	}
	if _, err := c.Payment.declineAbove(); err != nil {
		return err
	}

	if c.Workers.Size <= 0 {
		return errors.Errorf("workers size must be positive, got %d", c.Workers.Size)
	}
	if c.Workers.Queue < 0 {
		return errors.Errorf("workers queue must not be negative, got %d", c.Workers.Queue)
	}
	return nil
}

func (p PaymentConfig) declineAbove() (decimal.Decimal, error) {
	if p.DeclineAbove == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(p.DeclineAbove)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse decline-above %q", p.DeclineAbove)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Errorf("decline-above must not be negative, got %s", d)
	}
	return d, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.Addr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
