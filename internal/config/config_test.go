package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Engine.MaxCombinedPrice = 1.5
	cfg.Engine.Symbols = nil
	cfg.Postgres.PoolMaxConns = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "max_combined_price")
	assert.Contains(t, err.Error(), "symbols")
	assert.Contains(t, err.Error(), "pool_max_conns")
}

func TestValidate_LiveModeRequiresWallet(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "live"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg.Wallet.PrivateKey = "0xabc"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProxySignatureNeedsFunder(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.SignatureType = 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "funder_address")

	cfg.Wallet.FunderAddress = "0x91E0c21c2422296Ec6Dd15bC2Ca62009AbA64338"
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DUTCHBOOK_MODE", "monitor")
	t.Setenv("DUTCHBOOK_ENGINE_SYMBOLS", "BTC, ETH")
	t.Setenv("DUTCHBOOK_ENGINE_SUBMIT_TIMEOUT", "2s")
	t.Setenv("DUTCHBOOK_REDIS_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Engine.Symbols)
	assert.Equal(t, "2s", cfg.Engine.SubmitTimeout.Duration.String())
	assert.True(t, cfg.Redis.Enabled)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Postgres.Password = "hunter2"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "0xsecret", cfg.Wallet.PrivateKey, "original untouched")
}
