package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds the application configuration.
type Config struct {
	ServerPort int    `env:"PORT" envDefault:"8080"`
	AppEnv     string `env:"APP_ENV" envDefault:"development"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"` // sqlite or mysql
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"./storefront.db"`

	JWTSecret  string        `env:"JWT_SECRET,required"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"24h"` // 0 issues tokens without expiry
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`

	GuestTTL         time.Duration `env:"GUEST_TTL" envDefault:"5m"`
	GuestEmailDomain string        `env:"GUEST_EMAIL_DOMAIN" envDefault:"guest.local"`
	PurgeBatchSize   int           `env:"PURGE_BATCH_SIZE" envDefault:"100"`
	FlagSchedule     string        `env:"FLAG_SCHEDULE" envDefault:"0 0 * * *"`
	PurgeSchedule    string        `env:"PURGE_SCHEDULE" envDefault:"0 * * * *"`

	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`

	StripeSecretKey   string   `env:"STRIPE_SECRET_KEY"`
	FrontendURL       string   `env:"FRONTEND_URL" envDefault:"http://localhost:3000/"`
	ShippingCountries []string `env:"SHIPPING_COUNTRIES" envSeparator:"," envDefault:"US,GB,LT"`
	ShippingRates     []string `env:"SHIPPING_RATES" envSeparator:","`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	AuthRateLimit  int           `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	AuthRateWindow time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"1m"`
}

// Load reads a .env file if one exists, then parses the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}
	return parse(env.Options{})
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.GuestTTL <= 0 {
		return fmt.Errorf("GUEST_TTL must be positive, got %s", c.GuestTTL)
	}
	if c.PurgeBatchSize <= 0 {
		return fmt.Errorf("PURGE_BATCH_SIZE must be positive, got %d", c.PurgeBatchSize)
	}
	if c.TokenTTL < 0 {
		return fmt.Errorf("TOKEN_TTL must not be negative, got %s", c.TokenTTL)
	}
	if c.StoreTimeout <= 0 || c.PaymentTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT and PAYMENT_TIMEOUT must be positive")
	}
	if _, err := cron.ParseStandard(c.FlagSchedule); err != nil {
		return fmt.Errorf("invalid FLAG_SCHEDULE: %w", err)
	}
	if _, err := cron.ParseStandard(c.PurgeSchedule); err != nil {
		return fmt.Errorf("invalid PURGE_SCHEDULE: %w", err)
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
