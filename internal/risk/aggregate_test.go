package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	eth  = model.Reserve{Symbol: "ETH", LTV: d(0.75), LiquidationThreshold: d(0.80), CanBeCollateral: true, CanBorrow: true}
	usdc = model.Reserve{Symbol: "USDC", LTV: d(0.80), LiquidationThreshold: d(0.85), CanBeCollateral: true, CanBorrow: true}
	doge = model.Reserve{Symbol: "DOGE", LTV: d(0.50), LiquidationThreshold: d(0.60), CanBeCollateral: false, CanBorrow: true}
	btc  = model.Reserve{Symbol: "BTC", LTV: d(0.70), LiquidationThreshold: d(0.75), CanBeCollateral: true, CanBorrow: true}
	sol  = model.Reserve{Symbol: "SOL", LTV: d(0.60), LiquidationThreshold: d(0.70), CanBeCollateral: true, CanBorrow: true}
)

func mixedSupplies() []model.SupplyPosition {
	return []model.SupplyPosition{
		{Reserve: eth, Quantity: d(2), UseAsCollateral: true},       // 6000 USD
		{Reserve: usdc, Quantity: d(4000), UseAsCollateral: true},   // 4000 USD
		{Reserve: doge, Quantity: d(1000), UseAsCollateral: true},   // reserve not collateral
		{Reserve: btc, Quantity: d(1), UseAsCollateral: false},      // user opted out
		{Reserve: sol, Quantity: d(50), UseAsCollateral: true},      // no price
		{Reserve: eth, Quantity: decimal.Zero, UseAsCollateral: true}, // zero value
	}
}

func mixedPrices() Prices {
	return Prices{
		"ETH":  d(3000),
		"USDC": d(1),
		"DOGE": d(0.1),
		"BTC":  d(60000),
	}
}

// --- Weighted aggregator ---

func TestWeightedAverage_UniformValueIsArithmeticMean(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		weights []float64
		want    float64
	}{
		{"three weights", 100, []float64{0.5, 0.7, 0.9}, 0.7},
		{"single weight", 42, []float64{0.8}, 0.8},
		{"small value", 0.01, []float64{0.1, 0.2, 0.3, 0.4}, 0.25},
		{"large value", 1e9, []float64{0, 1}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := make([]Weighted, 0, len(tt.weights))
			for _, w := range tt.weights {
				entries = append(entries, Weighted{Value: d(tt.value), Weight: d(w)})
			}
			got := WeightedAverage(entries)
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected mean %v, got %s", tt.want, got)
			}
		})
	}
}

func TestWeightedAverage_SkipsNonPositiveValues(t *testing.T) {
	got := WeightedAverage([]Weighted{
		{Value: d(0), Weight: d(0.9)},
		{Value: d(-5), Weight: d(0.1)},
		{Value: d(100), Weight: d(0.5)},
	})
	// Skipped entries must not dilute the denominator.
	if !got.Equal(d(0.5)) {
		t.Errorf("expected 0.5, got %s", got)
	}
}

func TestWeightedAverage_EmptyIsZero(t *testing.T) {
	if got := WeightedAverage(nil); !got.IsZero() {
		t.Errorf("expected 0 for empty input, got %s", got)
	}
	allSkipped := []Weighted{{Value: d(0), Weight: d(1)}, {Value: d(-1), Weight: d(1)}}
	if got := WeightedAverage(allSkipped); !got.IsZero() {
		t.Errorf("expected 0 when every entry is skipped, got %s", got)
	}
}

func TestSumProducts_NoFiltering(t *testing.T) {
	got := SumProducts([]Product{
		{Amount: d(10), Price: d(2)},
		{Amount: d(5), Price: d(0)},
		{Amount: d(3), Price: d(-1)},
	})
	if !got.Equal(d(17)) {
		t.Errorf("expected 17, got %s", got)
	}
}

// --- Collateral / debt aggregation ---

func TestTotalCollateralUSD_Filtering(t *testing.T) {
	collateral, liqTh := TotalCollateralUSD(mixedSupplies(), mixedPrices())

	if !collateral.Equal(d(10000)) {
		t.Errorf("expected collateral 10000, got %s", collateral)
	}
	// (6000×0.80 + 4000×0.85) / 10000
	if !liqTh.Equal(d(0.82)) {
		t.Errorf("expected weighted liquidation threshold 0.82, got %s", liqTh)
	}
}

func TestWeightedLTV_SameFilterAsCollateral(t *testing.T) {
	ltv := WeightedLTV(mixedSupplies(), mixedPrices())
	// (6000×0.75 + 4000×0.80) / 10000
	if !ltv.Equal(d(0.77)) {
		t.Errorf("expected weighted LTV 0.77, got %s", ltv)
	}
}

func TestTotalCollateralUSD_NoEligibleSupplies(t *testing.T) {
	supplies := []model.SupplyPosition{
		{Reserve: doge, Quantity: d(1000), UseAsCollateral: true},
		{Reserve: btc, Quantity: d(1), UseAsCollateral: false},
	}
	collateral, liqTh := TotalCollateralUSD(supplies, mixedPrices())
	if !collateral.IsZero() || !liqTh.IsZero() {
		t.Errorf("expected zero collateral and threshold, got %s / %s", collateral, liqTh)
	}
	if ltv := WeightedLTV(supplies, mixedPrices()); !ltv.IsZero() {
		t.Errorf("expected zero LTV, got %s", ltv)
	}
}

func TestTotalDebtUSD_MissingPriceIsZero(t *testing.T) {
	unlisted := model.Reserve{Symbol: "XYZ", CanBorrow: true}
	borrows := []model.BorrowPosition{
		{Reserve: usdc, Amount: d(5000)},
		{Reserve: unlisted, Amount: d(100)},
		{Reserve: doge, Amount: d(10)}, // not collateral-eligible, still debt
	}
	got := TotalDebtUSD(borrows, mixedPrices())
	if !got.Equal(d(5001)) {
		t.Errorf("expected debt 5001, got %s", got)
	}
}

func TestPricesMissing(t *testing.T) {
	p := Prices{"ETH": d(3000), "ZERO": d(0)}
	got := p.Missing("ZERO", "ETH", "XYZ", "XYZ")
	if len(got) != 2 || got[0] != "XYZ" || got[1] != "ZERO" {
		t.Errorf("expected [XYZ ZERO], got %v", got)
	}
}

func TestPricesShock_DoesNotMutate(t *testing.T) {
	p := Prices{"ETH": d(2000)}
	shocked := p.Shock(d(-0.25))
	if !shocked["ETH"].Equal(d(1500)) {
		t.Errorf("expected shocked price 1500, got %s", shocked["ETH"])
	}
	if !p["ETH"].Equal(d(2000)) {
		t.Errorf("input table mutated: %s", p["ETH"])
	}
}

// --- Headroom / health factor ---

func TestAvailableBorrowUSD(t *testing.T) {
	tests := []struct {
		name                  string
		collateral, ltv, debt float64
		want                  float64
	}{
		{"headroom left", 10000, 0.75, 5000, 2500},
		{"exactly at cap", 10000, 0.75, 7500, 0},
		{"beyond cap clamps", 10000, 0.75, 9000, 0},
		{"no debt", 10000, 0.5, 0, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AvailableBorrowUSD(d(tt.collateral), d(tt.ltv), d(tt.debt))
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected %v, got %s", tt.want, got)
			}
		})
	}
}

func TestHealthFactor_ZeroDebtIsSentinel(t *testing.T) {
	for _, c := range []float64{0, 1, 1e6} {
		got := HealthFactor(d(c), d(0.8), decimal.Zero)
		if !got.Equal(InfiniteHF()) {
			t.Errorf("collateral %v: expected sentinel %s, got %s", c, InfiniteHF(), got)
		}
	}
	if got := HealthFactor(d(100), d(0.8), d(-1)); !got.Equal(InfiniteHF()) {
		t.Errorf("negative debt: expected sentinel, got %s", got)
	}
}

func TestHealthFactor_EndToEnd(t *testing.T) {
	hf := HealthFactor(d(20000), d(0.85), d(10000))
	if !hf.Equal(d(1.7)) {
		t.Fatalf("expected HF 1.70, got %s", hf)
	}
	if tier := ClassifyTier(hf, TierNone); tier != TierWarn {
		t.Errorf("expected WARN, got %s", tier)
	}
}
