package risk

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifyTier_BaseBoundaries(t *testing.T) {
	tests := []struct {
		hf   string
		want Tier
	}{
		{"999999999", TierSafe},
		{"2.01", TierSafe},
		{"2.00", TierWarn}, // SAFE is strictly above 2.00
		{"1.70", TierWarn},
		{"1.2000001", TierWarn},
		{"1.20", TierTopUp},
		{"1.0500001", TierTopUp},
		{"1.05", TierAtRisk},
		{"1.000001", TierAtRisk},
		{"1.00", TierLiquidate},
		{"0.5", TierLiquidate},
		{"0", TierLiquidate},
		{"-1", TierLiquidate},
	}

	for _, tt := range tests {
		t.Run(tt.hf, func(t *testing.T) {
			got := ClassifyTier(decimal.RequireFromString(tt.hf), TierNone)
			if got != tt.want {
				t.Errorf("HF=%s: expected %s, got %s", tt.hf, tt.want, got)
			}
		})
	}
}

func TestClassifyTier_Hysteresis(t *testing.T) {
	tests := []struct {
		name     string
		hf       string
		previous Tier
		want     Tier
	}{
		{"warn holds just below 1.20", "1.18", TierWarn, TierWarn},
		{"warn leaves past margin", "1.15", TierWarn, TierTopUp},
		{"warn holds just above 2.00", "2.04", TierWarn, TierWarn},
		{"warn leaves upward past margin", "2.06", TierWarn, TierSafe},
		{"safe holds just below 2.00", "1.96", TierSafe, TierSafe},
		{"safe leaves at 1.95", "1.95", TierSafe, TierWarn},
		{"top up holds above 1.20", "1.24", TierTopUp, TierTopUp},
		{"top up leaves upward", "1.26", TierTopUp, TierWarn},
		{"top up holds below 1.05", "1.01", TierTopUp, TierTopUp},
		{"at risk holds below 1.00", "0.96", TierAtRisk, TierAtRisk},
		{"at risk leaves to liquidate", "0.95", TierAtRisk, TierLiquidate},
		{"liquidate holds above 1.00", "1.04", TierLiquidate, TierLiquidate},
		{"liquidate holds at margin", "1.05", TierLiquidate, TierLiquidate},
		{"liquidate leaves past margin", "1.06", TierLiquidate, TierTopUp},
		{"none uses base bands", "1.18", TierNone, TierTopUp},
		{"invalid previous ignored", "1.18", Tier(42), TierTopUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyTier(decimal.RequireFromString(tt.hf), tt.previous)
			if got != tt.want {
				t.Errorf("HF=%s prev=%s: expected %s, got %s", tt.hf, tt.previous, tt.want, got)
			}
		})
	}
}

func TestClassifyTier_NoFlickerAroundBoundary(t *testing.T) {
	// Oscillating just around 1.20 must not flip the tier once it is held.
	prev := ClassifyTier(d(1.25), TierNone)
	for _, hf := range []float64{1.19, 1.21, 1.18, 1.22, 1.17} {
		next := ClassifyTier(d(hf), prev)
		if next != TierWarn {
			t.Fatalf("HF=%v: expected WARN to be held, got %s", hf, next)
		}
		prev = next
	}
}

func TestTier_Ordering(t *testing.T) {
	for i := 1; i < len(Tiers); i++ {
		if Tiers[i-1] <= Tiers[i] {
			t.Errorf("expected %s > %s", Tiers[i-1], Tiers[i])
		}
	}
}

func TestTier_TextRoundTrip(t *testing.T) {
	for _, tier := range append(Tiers, TierNone) {
		b, err := json.Marshal(tier)
		if err != nil {
			t.Fatalf("marshal %s: %v", tier, err)
		}
		var back Tier
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != tier {
			t.Errorf("round trip: expected %s, got %s", tier, back)
		}
	}
}

func TestParseTier_Unknown(t *testing.T) {
	_, err := ParseTier("DOOMED")
	if !errors.Is(err, ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestTier_Presentation(t *testing.T) {
	seen := make(map[string]bool)
	for _, tier := range Tiers {
		c := tier.Color()
		if c == "" || c == "gray" {
			t.Errorf("%s: expected a tier color, got %q", tier, c)
		}
		if seen[c] {
			t.Errorf("%s: color %q reused", tier, c)
		}
		seen[c] = true
		if tier.Message() == TierNone.Message() {
			t.Errorf("%s: expected a specific message", tier)
		}
	}
}

// scale only compiles while Scale is a constant.
const scale = Scale

func TestEngineParameters(t *testing.T) {
	if scale != 18 {
		t.Errorf("Scale: want 18, got %d", scale)
	}
	tests := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"InfiniteHF", InfiniteHF(), "999999999"},
		{"DefaultTargetHF", DefaultTargetHF(), "1.2"},
		{"Hysteresis", Hysteresis(), "0.05"},
		{"LiquidationHF", LiquidationHF(), "1"},
		{"CriticalHF", CriticalHF(), "1.05"},
		{"WarnHF", WarnHF(), "1.2"},
	}
	for _, tt := range tests {
		if !tt.got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("%s: want %s, got %s", tt.name, tt.want, tt.got)
		}
	}
}
