package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
)

// Weighted is one (USD value, weight) contribution to a value-weighted average.
type Weighted struct {
	Value  decimal.Decimal
	Weight decimal.Decimal
}

// Product is one (amount, price) term of a plain value sum.
type Product struct {
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// WeightedAverage returns Σ(value × weight) / Σ(value).
//
// Entries with value <= 0 are skipped entirely: they are not zero-weight
// contributions, they do not reach the denominator at all. Returns zero
// when nothing remains.
func WeightedAverage(entries []Weighted) decimal.Decimal {
	total := decimal.Zero
	accum := decimal.Zero
	for _, e := range entries {
		if !e.Value.IsPositive() {
			continue
		}
		total = total.Add(e.Value)
		accum = accum.Add(e.Value.Mul(e.Weight))
	}
	if !total.IsPositive() {
		return decimal.Zero
	}
	return div(accum, total)
}

// SumProducts returns Σ(amount × price) with no filtering.
func SumProducts(entries []Product) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount.Mul(e.Price))
	}
	return sum
}

// collateralEntry is a supply that passed the collateral filter.
type collateralEntry struct {
	value   decimal.Decimal
	reserve model.Reserve
}

// eligibleCollateral applies the collateral filter shared by
// TotalCollateralUSD and WeightedLTV: the user must have enabled the
// position as collateral, the reserve must accept collateral, the price
// must be positive and the resulting USD value must be positive.
func eligibleCollateral(supplies []model.SupplyPosition, prices Prices) []collateralEntry {
	out := make([]collateralEntry, 0, len(supplies))
	for _, s := range supplies {
		if !s.UseAsCollateral || !s.Reserve.CanBeCollateral {
			continue
		}
		price := prices.Get(s.Reserve.Symbol)
		if !price.IsPositive() {
			continue
		}
		value := s.Quantity.Mul(price)
		if !value.IsPositive() {
			continue
		}
		out = append(out, collateralEntry{value: value, reserve: s.Reserve})
	}
	return out
}

// TotalCollateralUSD returns the USD value of eligible collateral and the
// value-weighted liquidation threshold over it. Both are zero when no
// supply is eligible.
func TotalCollateralUSD(supplies []model.SupplyPosition, prices Prices) (collateralUSD, liqThreshold decimal.Decimal) {
	entries := eligibleCollateral(supplies, prices)
	weights := make([]Weighted, 0, len(entries))
	collateralUSD = decimal.Zero
	for _, e := range entries {
		collateralUSD = collateralUSD.Add(e.value)
		weights = append(weights, Weighted{Value: e.value, Weight: e.reserve.LiquidationThreshold})
	}
	return collateralUSD, WeightedAverage(weights)
}

// WeightedLTV returns the value-weighted loan-to-value ratio over the same
// eligible collateral as TotalCollateralUSD.
func WeightedLTV(supplies []model.SupplyPosition, prices Prices) decimal.Decimal {
	entries := eligibleCollateral(supplies, prices)
	weights := make([]Weighted, 0, len(entries))
	for _, e := range entries {
		weights = append(weights, Weighted{Value: e.value, Weight: e.reserve.LTV})
	}
	return WeightedAverage(weights)
}

// TotalDebtUSD returns Σ(amount × price) over all borrows.
//
// Unlike collateral there is no eligibility or positive-value filter, and
// a debt asset without a listed price is valued at zero. This understates
// debt when a price is missing; use Prices.Missing to detect that case.
func TotalDebtUSD(borrows []model.BorrowPosition, prices Prices) decimal.Decimal {
	terms := make([]Product, 0, len(borrows))
	for _, b := range borrows {
		terms = append(terms, Product{Amount: b.Amount, Price: prices.Get(b.Reserve.Symbol)})
	}
	return SumProducts(terms)
}
