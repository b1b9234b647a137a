package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/lending-risk/internal/limits"
	"github.com/atmx/lending-risk/internal/reserve"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, "1.2", cfg.TargetHF.String())
	assert.Equal(t, limits.LevelStarter, cfg.DefaultLevel)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(env(map[string]string{
		"PORT":          "9090",
		"CACHE_TTL":     "5m",
		"TARGET_HF":     "1.5",
		"DEFAULT_LEVEL": "premium",
		"REDIS_URL":     "redis://localhost:6379/0",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "1.5", cfg.TargetHF.String())
	assert.Equal(t, limits.LevelPremium, cfg.DefaultLevel)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoad_Invalid(t *testing.T) {
	for name, vars := range map[string]map[string]string{
		"ttl":         {"CACHE_TTL": "soon"},
		"target":      {"TARGET_HF": "high"},
		"target zero": {"TARGET_HF": "0"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(env(vars))
			assert.Error(t, err)
		})
	}
}

const seedYAML = `
reserves:
  - symbol: eth
    ltv: 0.80
    liquidation_threshold: 0.825
    can_be_collateral: true
    can_borrow: true
  - symbol: USDC
    ltv: "0.77"
    liquidation_threshold: "0.80"
    can_be_collateral: true
    can_borrow: true
prices:
  eth: 3000.50
  USDC: 1
limits:
  starter:
    label: Starter
    per_tx_limit_usd: 250
    daily_limit_usd: 1000
    monthly_limit_usd: 4000
    max_borrow_usd: 100
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	require.Len(t, seed.Reserves, 2)
	assert.Equal(t, "ETH", seed.Reserves[0].Symbol)
	assert.Equal(t, "0.825", seed.Reserves[0].LiquidationThreshold.String())
	assert.Equal(t, "0.77", seed.Reserves[1].LTV.String())
	assert.True(t, seed.Reserves[1].CanBorrow)

	assert.Equal(t, "3000.5", seed.Prices["ETH"].String())
	assert.Equal(t, "1", seed.Prices["USDC"].String())

	assert.Equal(t, "250", seed.Limits[limits.LevelStarter].PerTxUSD.String())
}

func TestParseSeed_InvalidReserve(t *testing.T) {
	_, err := ParseSeed([]byte(`
reserves:
  - symbol: ETH
    ltv: 0.9
    liquidation_threshold: 0.8
`))
	assert.ErrorIs(t, err, reserve.ErrThresholdBelowLTV)
}

func TestParseSeed_NegativePrice(t *testing.T) {
	_, err := ParseSeed([]byte("prices:\n  ETH: -1\n"))
	assert.Error(t, err)
}

func TestLoadSeed_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Len(t, seed.Reserves, 2)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultSeed_Valid(t *testing.T) {
	_, err := reserve.ValidateAll(DefaultSeed().Reserves)
	assert.NoError(t, err)
}

func TestLoadSeed_Example(t *testing.T) {
	seed, err := LoadSeed(filepath.Join("..", "..", "examples", "seed.yaml"))
	require.NoError(t, err)

	assert.Len(t, seed.Reserves, 4)
	assert.Equal(t, "60000", seed.Prices["WBTC"].String())
	assert.Equal(t, "2500", seed.Limits[limits.LevelGrowth].PerTxUSD.String())
}
