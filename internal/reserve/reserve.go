// Package reserve validates lending reserve definitions before they are
// seeded into the store. The risk engine trusts its inputs, so malformed
// risk parameters must be rejected here, at the edge.
package reserve

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
)

// symbolRegex matches upper-case asset tickers: ETH, USDC, WBTC, 1INCH.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

var (
	ErrInvalidSymbol     = errors.New("reserve: invalid symbol")
	ErrRatioOutOfRange   = errors.New("reserve: ratio must be within [0, 1]")
	ErrThresholdBelowLTV = errors.New("reserve: liquidation threshold below LTV")
	ErrDuplicateSymbol   = errors.New("reserve: duplicate symbol")
)

// NormalizeSymbol upper-cases and trims a ticker and checks its format.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected 2-10 characters A-Z, 0-9)", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// Validate checks a single reserve's risk parameters and returns it with
// a normalized symbol.
func Validate(r model.Reserve) (model.Reserve, error) {
	sym, err := NormalizeSymbol(r.Symbol)
	if err != nil {
		return r, err
	}
	r.Symbol = sym

	one := decimal.NewFromInt(1)
	if r.LTV.IsNegative() || r.LTV.GreaterThan(one) {
		return r, fmt.Errorf("%w: %s ltv=%s", ErrRatioOutOfRange, sym, r.LTV)
	}
	if r.LiquidationThreshold.IsNegative() || r.LiquidationThreshold.GreaterThan(one) {
		return r, fmt.Errorf("%w: %s liquidation_threshold=%s", ErrRatioOutOfRange, sym, r.LiquidationThreshold)
	}
	if r.LiquidationThreshold.LessThan(r.LTV) {
		return r, fmt.Errorf("%w: %s ltv=%s liquidation_threshold=%s",
			ErrThresholdBelowLTV, sym, r.LTV, r.LiquidationThreshold)
	}
	return r, nil
}

// ValidateAll validates a catalog and rejects duplicate symbols.
func ValidateAll(reserves []model.Reserve) ([]model.Reserve, error) {
	out := make([]model.Reserve, 0, len(reserves))
	seen := make(map[string]bool, len(reserves))
	for _, r := range reserves {
		v, err := Validate(r)
		if err != nil {
			return nil, err
		}
		if seen[v.Symbol] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, v.Symbol)
		}
		seen[v.Symbol] = true
		out = append(out, v)
	}
	return out, nil
}
