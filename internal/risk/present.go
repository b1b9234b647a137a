package risk

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Color is the UI color for t.
func (t Tier) Color() string {
	switch t {
	case TierSafe:
		return "green"
	case TierWarn:
		return "yellow"
	case TierTopUp:
		return "orange"
	case TierAtRisk:
		return "red"
	case TierLiquidate:
		return "darkred"
	}
	return "gray"
}

// Message is a short user-facing explanation of t.
func (t Tier) Message() string {
	switch t {
	case TierSafe:
		return "Your position is healthy."
	case TierWarn:
		return "Keep an eye on your position."
	case TierTopUp:
		return "Consider repaying debt or adding collateral."
	case TierAtRisk:
		return "Your position is close to liquidation."
	case TierLiquidate:
		return "Your position can be liquidated."
	}
	return "No risk data."
}

// FormatUSD renders v as a US dollar amount, e.g. "$1,234.56".
func FormatUSD(v decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	units := v.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(units, money.USD).Display()
}

// Advice describes what it takes to bring a to the target health factor.
func Advice(a Account, target decimal.Decimal) string {
	if !a.DebtUSD.IsPositive() {
		return "No outstanding debt."
	}
	if a.HealthFactor.GreaterThanOrEqual(target) {
		return fmt.Sprintf("Health factor %s is at or above the %s target.",
			a.HealthFactor.StringFixed(2), target.StringFixed(2))
	}
	repay := RepayToTargetHF(a.CollateralUSD, a.LiqThresholdWeighted, a.DebtUSD, target)
	add := AddCollateralToTargetHF(a.CollateralUSD, a.LiqThresholdWeighted, a.DebtUSD, target)
	if !a.LiqThresholdWeighted.IsPositive() {
		return fmt.Sprintf("Repay %s to reach a health factor of %s.",
			FormatUSD(repay), target.StringFixed(2))
	}
	return fmt.Sprintf("Repay %s or add %s of collateral to reach a health factor of %s.",
		FormatUSD(repay), FormatUSD(add), target.StringFixed(2))
}
