package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

var epsilon = d(0.000000001)

func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

func TestRepayToTargetHF_RoundTrip(t *testing.T) {
	collateral, lt, debt := d(10000), d(0.80), d(7500)

	repay := RepayToTargetHF(collateral, lt, debt, DefaultTargetHF())
	// 7500 − 8000/1.2
	if !approxEqual(repay, d(833.333333333)) {
		t.Errorf("expected repay ≈ 833.33, got %s", repay)
	}

	hf := HealthFactor(collateral, lt, debt.Sub(repay))
	if !approxEqual(hf, DefaultTargetHF()) {
		t.Errorf("expected HF ≈ 1.20 after repay, got %s", hf)
	}
}

func TestRepayToTargetHF_AlreadyAboveTarget(t *testing.T) {
	// HF = 8000/6000 ≈ 1.33 is already above 1.20: nothing to repay.
	collateral, lt, debt := d(10000), d(0.80), d(6000)

	repay := RepayToTargetHF(collateral, lt, debt, DefaultTargetHF())
	if !repay.IsZero() {
		t.Errorf("expected no repay, got %s", repay)
	}
	if hf := HealthFactor(collateral, lt, debt.Sub(repay)); hf.LessThan(DefaultTargetHF()) {
		t.Errorf("expected HF >= target, got %s", hf)
	}
}

func TestRepayToTargetHF_AlwaysWithinDebt(t *testing.T) {
	values := []float64{0, 0.5, 1, 100, 5000, 1e6}
	ratios := []float64{0, 0.3, 0.85, 1}
	targets := []float64{0, 0.5, 1.2, 3}

	for _, c := range values {
		for _, lt := range ratios {
			for _, debt := range values {
				for _, target := range targets {
					repay := RepayToTargetHF(d(c), d(lt), d(debt), d(target))
					if repay.IsNegative() || repay.GreaterThan(d(debt)) {
						t.Fatalf("c=%v lt=%v debt=%v target=%v: repay %s outside [0, debt]",
							c, lt, debt, target, repay)
					}
				}
			}
		}
	}
}

func TestRepayToTargetHF_NoCollateralRepaysAll(t *testing.T) {
	repay := RepayToTargetHF(decimal.Zero, d(0.8), d(500), DefaultTargetHF())
	if !repay.Equal(d(500)) {
		t.Errorf("expected full repay of 500, got %s", repay)
	}
}

func TestAddCollateralToTargetHF(t *testing.T) {
	collateral, lt, debt := d(10000), d(0.80), d(7500)

	add := AddCollateralToTargetHF(collateral, lt, debt, DefaultTargetHF())
	// 1.2 × 7500 / 0.8 − 10000
	if !add.Equal(d(1250)) {
		t.Fatalf("expected 1250, got %s", add)
	}
	hf := HealthFactor(collateral.Add(add), lt, debt)
	if !approxEqual(hf, DefaultTargetHF()) {
		t.Errorf("expected HF ≈ 1.20 after top-up, got %s", hf)
	}
}

func TestAddCollateralToTargetHF_ZeroThreshold(t *testing.T) {
	for _, debt := range []float64{0, 1, 1e6} {
		if got := AddCollateralToTargetHF(d(100), decimal.Zero, d(debt), DefaultTargetHF()); !got.IsZero() {
			t.Errorf("debt=%v: expected 0 for zero threshold, got %s", debt, got)
		}
	}
	if got := AddCollateralToTargetHF(d(100), d(-0.1), d(50), DefaultTargetHF()); !got.IsZero() {
		t.Errorf("expected 0 for negative threshold, got %s", got)
	}
}

func TestAddCollateralToTargetHF_NeverNegative(t *testing.T) {
	got := AddCollateralToTargetHF(d(1e6), d(0.8), d(10), DefaultTargetHF())
	if !got.IsZero() {
		t.Errorf("expected 0 for over-collateralized account, got %s", got)
	}
}
