package limits

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/lending-risk/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewLimiter(nil)

	err := limiter.CheckLimit(LevelStarter, model.ActionSupply, d(100), d(0), d(0))
	assert.NoError(t, err)
}

func TestCheckLimit_Violations(t *testing.T) {
	limiter := NewLimiter(nil)

	tests := []struct {
		name                   string
		level                  Level
		action                 model.Action
		amount, daily, monthly float64
		want                   error
	}{
		{"starter per-tx", LevelStarter, model.ActionSupply, 101, 0, 0, ErrPerTxLimitExceeded},
		{"starter borrow", LevelStarter, model.ActionBorrow, 60, 0, 0, ErrBorrowLimitExceeded},
		{"starter daily", LevelStarter, model.ActionWithdraw, 100, 450, 450, ErrDailyLimitExceeded},
		{"starter monthly", LevelStarter, model.ActionSupply, 100, 0, 1950, ErrMonthlyLimitExceeded},
		{"growth borrow", LevelGrowth, model.ActionBorrow, 501, 0, 0, ErrBorrowLimitExceeded},
		{"premium per-tx", LevelPremium, model.ActionSupply, 10_001, 0, 0, ErrPerTxLimitExceeded},
		{"unknown level uses starter", Level("vip"), model.ActionSupply, 150, 0, 0, ErrPerTxLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := limiter.CheckLimit(tt.level, tt.action, d(tt.amount), d(tt.daily), d(tt.monthly))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckLimit_DailyBoundaryInclusive(t *testing.T) {
	limiter := NewLimiter(nil)

	// 400 + 100 == 500 is still allowed.
	err := limiter.CheckLimit(LevelStarter, model.ActionSupply, d(100), d(400), d(400))
	assert.NoError(t, err)
}

func TestCheckLimit_RepayExempt(t *testing.T) {
	limiter := NewLimiter(nil)

	err := limiter.CheckLimit(LevelStarter, model.ActionRepay, d(1_000_000), d(1e9), d(1e9))
	assert.NoError(t, err)
}

func TestNewLimiter_Overrides(t *testing.T) {
	limiter := NewLimiter(map[Level]Caps{
		LevelStarter: {Label: "Starter", PerTxUSD: d(10), DailyUSD: d(20), MonthlyUSD: d(30), MaxBorrowUSD: d(5)},
	})

	require.Equal(t, "10", limiter.Caps(LevelStarter).PerTxUSD.String())
	// Levels not overridden keep defaults.
	require.Equal(t, "Growth", limiter.Caps(LevelGrowth).Label)

	err := limiter.CheckLimit(LevelStarter, model.ActionSupply, d(11), d(0), d(0))
	assert.ErrorIs(t, err, ErrPerTxLimitExceeded)
}
