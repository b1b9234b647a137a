package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownTier is returned when parsing a tier name that does not exist.
var ErrUnknownTier = errors.New("risk: unknown tier")

// Tier is a discrete risk bucket on the health-factor line. Real tiers are
// ordered from most dangerous to healthiest, so TierSafe > TierLiquidate.
// TierNone marks the absence of a previous evaluation.
type Tier int

const (
	TierNone Tier = iota
	TierLiquidate
	TierAtRisk
	TierTopUp
	TierWarn
	TierSafe
)

// Tiers lists the real tiers from healthiest to most dangerous, which is
// the order base bands are matched in.
var Tiers = []Tier{TierSafe, TierWarn, TierTopUp, TierAtRisk, TierLiquidate}

var (
	hysteresis = decimal.RequireFromString("0.05")

	boundSafe   = decimal.RequireFromString("2.00")
	boundWarn   = decimal.RequireFromString("1.20")
	boundTopUp  = decimal.RequireFromString("1.05")
	boundAtRisk = decimal.RequireFromString("1.00")
)

func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "SAFE"
	case TierWarn:
		return "WARN"
	case TierTopUp:
		return "TOP_UP"
	case TierAtRisk:
		return "AT_RISK"
	case TierLiquidate:
		return "LIQUIDATE"
	case TierNone:
		return ""
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Valid reports whether t is a real tier rather than TierNone or an
// out-of-range value.
func (t Tier) Valid() bool {
	return t >= TierLiquidate && t <= TierSafe
}

// ParseTier converts a tier name back to a Tier. The empty string parses
// to TierNone.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "SAFE":
		return TierSafe, nil
	case "WARN":
		return TierWarn, nil
	case "TOP_UP":
		return TierTopUp, nil
	case "AT_RISK":
		return TierAtRisk, nil
	case "LIQUIDATE":
		return TierLiquidate, nil
	case "":
		return TierNone, nil
	}
	return TierNone, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Hysteresis is how far the previously held tier's band is widened before
// the new HF is tested against it.
func Hysteresis() decimal.Decimal { return hysteresis }

// band is a half-open HF interval (lo, hi]. A nil bound is unbounded.
type band struct {
	lo, hi *decimal.Decimal
}

func (b band) contains(hf decimal.Decimal) bool {
	if b.lo != nil && hf.LessThanOrEqual(*b.lo) {
		return false
	}
	if b.hi != nil && hf.GreaterThan(*b.hi) {
		return false
	}
	return true
}

func bound(v decimal.Decimal) *decimal.Decimal { return &v }

// bandFor returns the HF band of t. When widened is set the band is grown
// by Hysteresis on the sides a holder must cross to leave the tier: both
// sides for the middle tiers, only the lower side for SAFE and only the
// upper side for LIQUIDATE.
func bandFor(t Tier, widened bool) band {
	h := decimal.Zero
	if widened {
		h = hysteresis
	}
	switch t {
	case TierSafe:
		return band{lo: bound(boundSafe.Sub(h))}
	case TierWarn:
		return band{lo: bound(boundWarn.Sub(h)), hi: bound(boundSafe.Add(h))}
	case TierTopUp:
		return band{lo: bound(boundTopUp.Sub(h)), hi: bound(boundWarn.Add(h))}
	case TierAtRisk:
		return band{lo: bound(boundAtRisk.Sub(h)), hi: bound(boundTopUp.Add(h))}
	case TierLiquidate:
		return band{hi: bound(boundAtRisk.Add(h))}
	}
	panic(fmt.Sprintf("risk: no band for %v", t))
}

// ClassifyTier maps a health factor to a tier.
//
// Base bands (lower bound exclusive, upper inclusive):
//
//	SAFE       HF > 2.00
//	WARN       1.20 < HF <= 2.00
//	TOP_UP     1.05 < HF <= 1.20
//	AT_RISK    1.00 < HF <= 1.05
//	LIQUIDATE  HF <= 1.00
//
// If previous is a real tier and hf still lies within that tier's band
// widened by Hysteresis, previous is kept: leaving a tier takes a larger
// move than entering it. Otherwise the first matching base band wins,
// healthiest first. Falls back to TierSafe.
func ClassifyTier(hf decimal.Decimal, previous Tier) Tier {
	if previous.Valid() && bandFor(previous, true).contains(hf) {
		return previous
	}
	for _, t := range Tiers {
		if bandFor(t, false).contains(hf) {
			return t
		}
	}
	return TierSafe
}
