// Package risk implements the collateralized-lending risk engine:
// value-weighted aggregation of reserve parameters, health factor,
// borrow headroom, tier classification with hysteresis, price-shock stress
// testing and inverse solvers for a target health factor.
//
// The engine is pure. It owns no state, performs no I/O and never mutates
// its inputs, so every function is safe for concurrent use. Degenerate
// inputs (zero prices, zero debt, empty position lists) never produce an
// error; each function documents its fallback value instead.
//
// All values use shopspring/decimal, never float64 for money. Divisions
// round explicitly to Scale places rather than relying on the package-wide
// decimal.DivisionPrecision.
package risk

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept by every division.
const Scale int32 = 18

var (
	infiniteHF      = decimal.NewFromInt(999_999_999)
	defaultTargetHF = decimal.RequireFromString("1.20")
)

// InfiniteHF is the health factor reported for an account without debt.
// It is finite so callers can compare and serialize it.
func InfiniteHF() decimal.Decimal { return infiniteHF }

// DefaultTargetHF is the health factor the inverse solvers aim for when
// the caller has no preference.
func DefaultTargetHF() decimal.Decimal { return defaultTargetHF }

// Prices maps an asset symbol to its USD price.
type Prices map[string]decimal.Decimal

// Get returns the price for symbol, or zero when it is not listed.
func (p Prices) Get(symbol string) decimal.Decimal {
	return p[symbol]
}

// Shock returns a new table with every price multiplied by (1 + shock).
// The receiver is left untouched.
func (p Prices) Shock(shock decimal.Decimal) Prices {
	factor := decimal.NewFromInt(1).Add(shock)
	out := make(Prices, len(p))
	for sym, price := range p {
		out[sym] = price.Mul(factor)
	}
	return out
}

// Missing returns, sorted, the symbols that have no positive price.
// The engine treats them as price zero; callers use this to surface the
// gap without changing the computed figures.
func (p Prices) Missing(symbols ...string) []string {
	var out []string
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if !p[sym].IsPositive() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func div(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, Scale)
}

func maxZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
