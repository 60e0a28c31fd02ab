package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 3000, cfg.Service.HTTPPort)
	require.Equal(t, 5*time.Second, cfg.Service.AutoCloseDelay)
	require.Equal(t, DriverMemory, cfg.Idempotency.Driver)
	require.Equal(t, "https://mempool.space", cfg.Fees.BaseURL)
	require.Empty(t, cfg.Backend.BaseURL)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, WalletSimulated, cfg.Wallet.Driver)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STAMPBUY_HTTP_PORT", "8081")
	t.Setenv("STAMPBUY_BACKEND_URL", "https://stampchain.example")
	t.Setenv("STAMPBUY_AUTO_CLOSE_DELAY", "250ms")
	t.Setenv("STAMPBUY_IDEMPOTENCY_DRIVER", "sqlite")
	t.Setenv("STAMPBUY_WALLET_ADDRESS", "bc1qexample")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 8081, cfg.Service.HTTPPort)
	require.Equal(t, "https://stampchain.example", cfg.Backend.BaseURL)
	require.Equal(t, 250*time.Millisecond, cfg.Service.AutoCloseDelay)
	require.Equal(t, DriverSQLite, cfg.Idempotency.Driver)
	require.Equal(t, "bc1qexample", cfg.Wallet.Address)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"STAMPBUY_IDEMPOTENCY_DRIVER": "redis"},
		"unknown wallet":       {"STAMPBUY_WALLET_DRIVER": "hardware"},
		"postgres without dsn": {"STAMPBUY_IDEMPOTENCY_DRIVER": "postgres"},
		"zero port":            {"STAMPBUY_HTTP_PORT": "0"},
		"zero poll interval":   {"STAMPBUY_FEES_POLL_INTERVAL": "0s"},
		"malformed duration":   {"STAMPBUY_AUTO_CLOSE_DELAY": "soon"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
