package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/billing")
	t.Setenv("PAYMENT_GATEWAY", "mock")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4001, cfg.Port)
	assert.Equal(t, "mock", cfg.PaymentGateway)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, int64(10), cfg.PriceMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "http://localhost:4001/api/payment/callback", cfg.CallbackURL())
	assert.Equal(t, []string{"http://localhost:3080", "http://localhost:3090"}, cfg.CORSOrigins)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/billing")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadZibalNeedsMerchant(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_GATEWAY", "zibal")
	t.Setenv("ZIBAL_MERCHANT", "")

	_, err := Load()
	assert.ErrorContains(t, err, "ZIBAL_MERCHANT")

	t.Setenv("ZIBAL_MERCHANT", "m-123")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "m-123", cfg.ZibalMerchant)
}

func TestLoadRejectsBadValues(t *testing.T) {
	setRequired(t)

	t.Setenv("PAYMENT_GATEWAY", "paypal")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PAYMENT_GATEWAY", "mock")
	t.Setenv("GATEWAY_TIMEOUT", "0s")
	_, err = Load()
	assert.ErrorContains(t, err, "GATEWAY_TIMEOUT")

	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("PRICE_MULTIPLIER", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "PRICE_MULTIPLIER")

	t.Setenv("PRICE_MULTIPLIER", "10")
	t.Setenv("SWEEP_INTERVAL", "-1m")
	_, err = Load()
	assert.ErrorContains(t, err, "SWEEP_INTERVAL")

	t.Setenv("SWEEP_INTERVAL", "0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.SweepInterval)
}

func TestLoadConfigFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PORT: 5050\nFRONTEND_URL: https://chat.example\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FRONTEND_URL", "https://override.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5050, cfg.Port)
	assert.Equal(t, "https://override.example", cfg.FrontendURL)
}
