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
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CAREMEDS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	ImageBaseURL string `default:"" usage:"Base URL for catalog images (e.g. https://cdn.example.com/images/)" flag:"image-base-url"`
	Storage      StorageConfig
	Auth         AuthConfig
	Order        OrderConfig
	Catalog      CatalogConfig
	Accounts     AccountsConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver      string `default:"postgres" usage:"Storage driver: postgres, sqlite or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CAREMEDS_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SQLitePath  string `default:"caremeds.db" usage:"SQLite database file" flag:"sqlite-path"`
}

// AuthConfig configures bearer tokens and API keys.
type AuthConfig struct {
	TokenSecret  string `usage:"HS256 secret shared with the identity service; empty disables bearer tokens" flag:"token-secret"`
	TokenIssuer  string `usage:"Expected iss claim of bearer tokens" flag:"token-issuer"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CAREMEDS_AUTH_API_KEY_PEPPER)" flag:"api-key-pepper"`
}

// OrderConfig holds the pricing rules applied at placement. Amounts are
// decimal strings so they never pass through float64.
type OrderConfig struct {
	CommissionRate string `default:"0.10" usage:"Platform commission as a fraction of the subtotal" flag:"commission-rate"`
	DeliveryFee    string `default:"30" usage:"Flat delivery fee added to non-empty orders" flag:"delivery-fee"`
}

// Pricing parses the commission rate and delivery fee.
func (c OrderConfig) Pricing() (rate, fee decimal.Decimal, err error) {
	rate, err = decimal.NewFromString(c.CommissionRate)
	if err != nil {
		return rate, fee, errors.Wrapf(err, "parse commission rate %q", c.CommissionRate)
	}
	fee, err = decimal.NewFromString(c.DeliveryFee)
	if err != nil {
		return rate, fee, errors.Wrapf(err, "parse delivery fee %q", c.DeliveryFee)
	}
	return rate, fee, nil
}

// CatalogConfig controls the catalog listing cache.
type CatalogConfig struct {
	CacheSize int           `default:"256" usage:"Cached listings; 0 disables the cache"`
	CacheTTL  time.Duration `default:"5s" usage:"Listing cache TTL"`
}

// AccountsConfig controls how often principals are written to the account
// directory.
type AccountsConfig struct {
	CacheSize int           `default:"4096" usage:"Principals remembered between directory writes"`
	Refresh   time.Duration `default:"5m" usage:"Minimum interval between directory writes per principal"`
}

// RedisConfig configures the idempotency key store.
type RedisConfig struct {
	URL            string        `usage:"Redis URL for idempotency keys (CAREMEDS_REDIS_URL or REDIS_URL); empty disables them" flag:"redis-url"`
	IdempotencyTTL time.Duration `default:"24h" usage:"Lifetime of a claimed idempotency key"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
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

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		Files: []string{"config.yaml", "/etc/caremeds/config.yaml"},
	})
}

func loadConfig(base aconfig.Config) (*Config, error) {
	var cfg Config
	base.EnvPrefix = "CAREMEDS"
	base.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	loader := aconfig.LoaderFor(&cfg, base)
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CAREMEDS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required: set CAREMEDS_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite path is required")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	_, _, err := c.Order.Pricing()
	return err
}
