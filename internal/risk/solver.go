package risk

import "github.com/shopspring/decimal"

// RepayToTargetHF returns the minimum debt repayment that lifts the health
// factor to target:
//
//	target = (collateral × lt) / (debt − repay)
//	repay  = debt − (collateral × lt) / target
//
// The result is clamped to [0, debt]. A non-positive target cannot be
// expressed as a finite HF, so the whole debt is returned.
func RepayToTargetHF(collateralUSD, liqThreshold, debtUSD, target decimal.Decimal) decimal.Decimal {
	debt := maxZero(debtUSD)
	if !target.IsPositive() {
		return debt
	}
	repay := debt.Sub(div(collateralUSD.Mul(liqThreshold), target))
	if repay.IsNegative() {
		return decimal.Zero
	}
	if repay.GreaterThan(debt) {
		return debt
	}
	return repay
}

// AddCollateralToTargetHF returns the minimum extra collateral (USD, at
// the same weighted liquidation threshold) that lifts the health factor to
// target:
//
//	target = ((collateral + Δ) × lt) / debt
//	Δ      = target × debt / lt − collateral
//
// clamped at zero. Returns zero when lt <= 0: no amount of zero-weighted
// collateral moves the health factor.
func AddCollateralToTargetHF(collateralUSD, liqThreshold, debtUSD, target decimal.Decimal) decimal.Decimal {
	if !liqThreshold.IsPositive() {
		return decimal.Zero
	}
	return maxZero(div(target.Mul(debtUSD), liqThreshold).Sub(collateralUSD))
}
