// Package config loads service configuration from the environment and the
// optional YAML seed file that declares reserves, initial prices and
// transaction limit overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/lending-risk/internal/limits"
	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/reserve"
)

// Config is the process configuration.
type Config struct {
	Port         string
	DatabaseURL  string // empty → in-memory store
	RedisURL     string // empty → no cache
	CacheTTL     time.Duration
	SeedFile     string
	TargetHF     decimal.Decimal
	DefaultLevel limits.Level
}

// Load reads configuration through getenv (os.Getenv in production).
func Load(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:         getenv("PORT"),
		DatabaseURL:  getenv("DATABASE_URL"),
		RedisURL:     getenv("REDIS_URL"),
		CacheTTL:     30 * time.Second,
		SeedFile:     getenv("SEED_FILE"),
		TargetHF:     decimal.RequireFromString("1.20"),
		DefaultLevel: limits.LevelStarter,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if v := getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid CACHE_TTL %q: %w", v, err)
		}
		cfg.CacheTTL = ttl
	}

	if v := getenv("TARGET_HF"); v != "" {
		target, err := decimal.NewFromString(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TARGET_HF %q: %w", v, err)
		}
		if !target.IsPositive() {
			return cfg, fmt.Errorf("invalid TARGET_HF %q: must be positive", v)
		}
		cfg.TargetHF = target
	}

	if v := getenv("DEFAULT_LEVEL"); v != "" {
		cfg.DefaultLevel = limits.Level(v)
	}

	return cfg, nil
}

// Seed is the content of the YAML seed file.
type Seed struct {
	Reserves []model.Reserve              `yaml:"reserves"`
	Prices   map[string]decimal.Decimal   `yaml:"prices"`
	Limits   map[limits.Level]limits.Caps `yaml:"limits"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML. Reserve and price symbols are
// normalized to upper case.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	reserves, err := reserve.ValidateAll(seed.Reserves)
	if err != nil {
		return nil, err
	}
	seed.Reserves = reserves

	prices := make(map[string]decimal.Decimal, len(seed.Prices))
	for sym, p := range seed.Prices {
		norm, err := reserve.NormalizeSymbol(sym)
		if err != nil {
			return nil, err
		}
		if p.IsNegative() {
			return nil, fmt.Errorf("price for %s is negative: %s", norm, p)
		}
		prices[norm] = p
	}
	seed.Prices = prices

	return &seed, nil
}

// DefaultSeed is used when no seed file is configured.
func DefaultSeed() *Seed {
	r := func(sym, ltv, lt string, collateral, borrow bool) model.Reserve {
		return model.Reserve{
			Symbol:               sym,
			LTV:                  decimal.RequireFromString(ltv),
			LiquidationThreshold: decimal.RequireFromString(lt),
			CanBeCollateral:      collateral,
			CanBorrow:            borrow,
		}
	}
	return &Seed{
		Reserves: []model.Reserve{
			r("ETH", "0.80", "0.825", true, true),
			r("WBTC", "0.70", "0.75", true, true),
			r("USDC", "0.77", "0.80", true, true),
			r("DAI", "0.75", "0.77", true, true),
		},
		Prices: map[string]decimal.Decimal{},
	}
}
