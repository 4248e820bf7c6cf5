package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

// Ledger backends.
const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (POS_ prefix), flags, a .env file or YAML config
// files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Ledger      string `default:"postgres" usage:"Order ledger backend: postgres or memory"`
	JWTSecret   string `usage:"HS256 secret for staff bearer tokens (POS_JWT_SECRET)" flag:"jwt-secret"`
	Catalog     CatalogConfig
	Tax         TaxConfig
	Square      SquareConfig
	AMQP        AMQPConfig
	Watch       WatchConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CatalogConfig points at CSV exports loaded by the memory ledger.
type CatalogConfig struct {
	MenuFile string `usage:"Menu CSV (id,name,price,category), optionally .gz" flag:"menu-file"`
	TaxFile  string `usage:"Tax rate CSV (city,total_rate), optionally .gz" flag:"tax-file"`
}

// TaxConfig selects the register's initial tax profile.
type TaxConfig struct {
	Jurisdiction string `default:"Austin" usage:"Initial tax jurisdiction"`
}

// SquareConfig configures the card terminal.
type SquareConfig struct {
	BaseURL      string        `default:"https://connect.squareup.com" usage:"Square API base URL"`
	AccessToken  string        `usage:"Square access token"`
	LocationID   string        `usage:"Square location id"`
	DeviceID     string        `usage:"Paired Square Terminal device id"`
	Currency     string        `default:"USD" usage:"ISO 4217 currency of captured amounts"`
	PollInterval time.Duration `default:"1s" usage:"Terminal checkout polling interval"`
	// CheckoutTimeout bounds how long a checkout response may wait for the
	// customer at the terminal, past the server write timeout.
	CheckoutTimeout time.Duration `default:"5m" usage:"Write deadline of checkout responses"`
	// Required gates readiness on an authorized terminal session.
	Required bool `default:"false" usage:"Report not ready while the terminal is unauthorized"`
}

// AMQPConfig configures the order event publisher. Empty URL disables it.
type AMQPConfig struct {
	URL      string `usage:"RabbitMQ URL for order events"`
	Exchange string `default:"pos.orders" usage:"Topic exchange for order events"`
}

// WatchConfig tunes kitchen queue streams.
type WatchConfig struct {
	Coalesce  time.Duration `default:"50ms" usage:"Window over which ledger change notifications are merged"`
	Heartbeat time.Duration `default:"15s" usage:"SSE keep-alive interval for station queues"`
}

// RateLimitConfig controls the per-client and per-employee token buckets.
type RateLimitConfig struct {
	Max         int           `default:"100" usage:"Max requests per window per client IP"`
	EmployeeMax int           `default:"60" usage:"Max /api requests per window per employee; 0 disables"`
	Window      time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then configuration from environment variables,
// YAML config files and flags, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(aconfig.Config{
		Files: []string{"config.yaml", "/etc/pos/config.yaml"},
	})
}

func loadConfig(base aconfig.Config) (*Config, error) {
	var cfg Config
	base.EnvPrefix = "POS"
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	if err := aconfig.LoaderFor(&cfg, base).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing settings required by the selected backends.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT secret is required: set POS_JWT_SECRET")
	}
	switch c.Ledger {
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
		}
	case LedgerMemory:
		if c.Catalog.MenuFile == "" || c.Catalog.TaxFile == "" {
			return errors.New("memory ledger needs POS_CATALOG_MENU_FILE and POS_CATALOG_TAX_FILE")
		}
	default:
		return errors.Errorf("unknown ledger %q: want %s or %s", c.Ledger, LedgerPostgres, LedgerMemory)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's POS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
