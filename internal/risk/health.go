package risk

import "github.com/shopspring/decimal"

// AvailableBorrowUSD returns the remaining borrow capacity under the LTV
// ceiling:
//
//	headroom = collateral × ltv − debt
//
// clamped at zero. This bounds against LTV, not the liquidation threshold.
func AvailableBorrowUSD(collateralUSD, weightedLTV, debtUSD decimal.Decimal) decimal.Decimal {
	return maxZero(collateralUSD.Mul(weightedLTV).Sub(debtUSD))
}

// HealthFactor computes
//
//	HF = (collateral × liquidation threshold) / debt
//
// Returns InfiniteHF when debt <= 0.
func HealthFactor(collateralUSD, liqThreshold, debtUSD decimal.Decimal) decimal.Decimal {
	if !debtUSD.IsPositive() {
		return infiniteHF
	}
	return div(collateralUSD.Mul(liqThreshold), debtUSD)
}
