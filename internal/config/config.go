package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Idempotency store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// WalletSimulated is the only wallet driver. It signs and broadcasts nothing
// on-chain.
const WalletSimulated = "simulated"

// AppConfig ties together every section read from the environment.
type AppConfig struct {
	LogLevel    string `env:"STAMPBUY_LOG_LEVEL" envDefault:"info"`
	Service     ServiceConfig
	Backend     BackendConfig
	Fees        FeesConfig
	Wallet      WalletConfig
	Idempotency IdempotencyConfig
}

type ServiceConfig struct {
	HTTPPort        int           `env:"STAMPBUY_HTTP_PORT" envDefault:"3000"`
	HMACSecret      string        `env:"STAMPBUY_HMAC_SECRET"`
	HMACClockSkew   time.Duration `env:"STAMPBUY_HMAC_CLOCK_SKEW" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"STAMPBUY_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// AutoCloseDelay is how long a settled purchase stays open before it
	// closes itself.
	AutoCloseDelay time.Duration `env:"STAMPBUY_AUTO_CLOSE_DELAY" envDefault:"5s"`
}

// BackendConfig points at the transaction-construction API. An empty BaseURL
// selects the in-process fake.
type BackendConfig struct {
	BaseURL string        `env:"STAMPBUY_BACKEND_URL"`
	Timeout time.Duration `env:"STAMPBUY_BACKEND_TIMEOUT" envDefault:"15s"`
}

type FeesConfig struct {
	BaseURL      string        `env:"STAMPBUY_FEES_URL" envDefault:"https://mempool.space"`
	PollInterval time.Duration `env:"STAMPBUY_FEES_POLL_INTERVAL" envDefault:"60s"`
	Timeout      time.Duration `env:"STAMPBUY_FEES_TIMEOUT" envDefault:"10s"`
}

// WalletConfig selects the buyer wallet. The simulated wallet reports
// connected only when an address is set.
type WalletConfig struct {
	Driver  string `env:"STAMPBUY_WALLET_DRIVER" envDefault:"simulated"`
	Address string `env:"STAMPBUY_WALLET_ADDRESS"`
}

type IdempotencyConfig struct {
	Driver      string        `env:"STAMPBUY_IDEMPOTENCY_DRIVER" envDefault:"memory"`
	SQLitePath  string        `env:"STAMPBUY_IDEMPOTENCY_SQLITE_PATH" envDefault:"stampbuy-idem.db"`
	PostgresDSN string        `env:"STAMPBUY_IDEMPOTENCY_POSTGRES_DSN"`
	Window      time.Duration `env:"STAMPBUY_IDEMPOTENCY_WINDOW" envDefault:"24h"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Service.HTTPPort <= 0 {
		return fmt.Errorf("invalid http port %d", c.Service.HTTPPort)
	}
	if c.Service.AutoCloseDelay < 0 {
		return errors.New("auto close delay must not be negative")
	}
	if c.Fees.PollInterval <= 0 {
		return errors.New("fee poll interval must be positive")
	}
	if c.Wallet.Driver != WalletSimulated {
		return fmt.Errorf("unknown wallet driver %q", c.Wallet.Driver)
	}
	switch c.Idempotency.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Idempotency.PostgresDSN == "" {
			return errors.New("postgres idempotency driver requires a dsn")
		}
	default:
		return fmt.Errorf("unknown idempotency driver %q", c.Idempotency.Driver)
	}
	return nil
}
