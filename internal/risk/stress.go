package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
)

// StressResult is the outcome of one price-shock scenario.
type StressResult struct {
	Shock                decimal.Decimal `json:"shock"`
	CollateralUSD        decimal.Decimal `json:"collateral_usd"`
	DebtUSD              decimal.Decimal `json:"debt_usd"`
	LTVWeighted          decimal.Decimal `json:"ltv_weighted"`
	LiqThresholdWeighted decimal.Decimal `json:"liq_threshold_weighted"`
	AvailableBorrowUSD   decimal.Decimal `json:"available_borrow_usd"`
	HealthFactor         decimal.Decimal `json:"health_factor"`
	Tier                 Tier            `json:"tier"`
}

// DefaultShocks returns the drawdowns applied when the caller passes none:
// −20%, −30% and −50%.
func DefaultShocks() []decimal.Decimal {
	return []decimal.Decimal{
		decimal.RequireFromString("-0.20"),
		decimal.RequireFromString("-0.30"),
		decimal.RequireFromString("-0.50"),
	}
}

// StressTestHF re-evaluates the account under each uniform price shock.
//
// Every price in the table, collateral and debt alike, is multiplied by
// (1 + shock) and the USD totals, headroom and HF are recomputed from the
// shocked prices. The weighted LTV and liquidation threshold are computed
// once from the unshocked prices.
//
// Shocks are a sequential fold: each scenario is classified with the tier
// of the scenario before it as its previous tier (the first uses previous).
// A nil shocks slice means DefaultShocks.
func StressTestHF(
	supplies []model.SupplyPosition,
	borrows []model.BorrowPosition,
	prices Prices,
	shocks []decimal.Decimal,
	previous Tier,
) []StressResult {
	if shocks == nil {
		shocks = DefaultShocks()
	}

	ltv := WeightedLTV(supplies, prices)
	_, liqThreshold := TotalCollateralUSD(supplies, prices)

	results := make([]StressResult, 0, len(shocks))
	running := previous
	for _, shock := range shocks {
		shocked := prices.Shock(shock)
		collateral, _ := TotalCollateralUSD(supplies, shocked)
		debt := TotalDebtUSD(borrows, shocked)
		hf := HealthFactor(collateral, liqThreshold, debt)
		tier := ClassifyTier(hf, running)

		results = append(results, StressResult{
			Shock:                shock,
			CollateralUSD:        collateral,
			DebtUSD:              debt,
			LTVWeighted:          ltv,
			LiqThresholdWeighted: liqThreshold,
			AvailableBorrowUSD:   AvailableBorrowUSD(collateral, ltv, debt),
			HealthFactor:         hf,
			Tier:                 tier,
		})
		running = tier
	}
	return results
}
