// Package limits enforces per-user transaction limits that scale with the
// user's account level (starter, growth, premium).
//
// A transaction is checked against four caps: a per-transaction USD cap,
// a rolling daily and monthly USD volume cap, and a separate per-borrow
// cap. Repays reduce risk and are never limited.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
)

var (
	// ErrPerTxLimitExceeded is returned when a single transaction is too large.
	ErrPerTxLimitExceeded = errors.New("limits: per-transaction limit exceeded")

	// ErrDailyLimitExceeded is returned when the transaction would push the
	// user's volume over the last 24 hours beyond the daily cap.
	ErrDailyLimitExceeded = errors.New("limits: daily limit exceeded")

	// ErrMonthlyLimitExceeded is the monthly counterpart of ErrDailyLimitExceeded.
	ErrMonthlyLimitExceeded = errors.New("limits: monthly limit exceeded")

	// ErrBorrowLimitExceeded is returned when a borrow exceeds the level's
	// maximum borrow size.
	ErrBorrowLimitExceeded = errors.New("limits: borrow limit exceeded")
)

// Level is a user's account level.
type Level string

const (
	LevelStarter Level = "starter"
	LevelGrowth  Level = "growth"
	LevelPremium Level = "premium"
)

// Caps are the USD limits of one level.
type Caps struct {
	Label        string          `json:"label" yaml:"label"`
	PerTxUSD     decimal.Decimal `json:"per_tx_limit_usd" yaml:"per_tx_limit_usd"`
	DailyUSD     decimal.Decimal `json:"daily_limit_usd" yaml:"daily_limit_usd"`
	MonthlyUSD   decimal.Decimal `json:"monthly_limit_usd" yaml:"monthly_limit_usd"`
	MaxBorrowUSD decimal.Decimal `json:"max_borrow_usd" yaml:"max_borrow_usd"`
}

// DefaultCaps returns the built-in caps for every level.
func DefaultCaps() map[Level]Caps {
	return map[Level]Caps{
		LevelStarter: {
			Label:        "Starter",
			PerTxUSD:     decimal.NewFromInt(100),
			DailyUSD:     decimal.NewFromInt(500),
			MonthlyUSD:   decimal.NewFromInt(2_000),
			MaxBorrowUSD: decimal.NewFromInt(50),
		},
		LevelGrowth: {
			Label:        "Growth",
			PerTxUSD:     decimal.NewFromInt(1_000),
			DailyUSD:     decimal.NewFromInt(5_000),
			MonthlyUSD:   decimal.NewFromInt(25_000),
			MaxBorrowUSD: decimal.NewFromInt(500),
		},
		LevelPremium: {
			Label:        "Premium",
			PerTxUSD:     decimal.NewFromInt(10_000),
			DailyUSD:     decimal.NewFromInt(50_000),
			MonthlyUSD:   decimal.NewFromInt(200_000),
			MaxBorrowUSD: decimal.NewFromInt(5_000),
		},
	}
}

// Limiter checks transactions against level caps. It is read-only after
// construction and safe for concurrent use.
type Limiter struct {
	caps map[Level]Caps
}

// NewLimiter creates a limiter. Levels missing from overrides keep their
// default caps.
func NewLimiter(overrides map[Level]Caps) *Limiter {
	caps := DefaultCaps()
	for level, c := range overrides {
		caps[level] = c
	}
	return &Limiter{caps: caps}
}

// Caps returns the caps for level. Unknown levels get the starter caps.
func (l *Limiter) Caps(level Level) Caps {
	if c, ok := l.caps[level]; ok {
		return c
	}
	return l.caps[LevelStarter]
}

// CheckLimit validates a transaction of amountUSD given the user's volume
// over the last day and month (excluding this transaction).
//
// Returns nil if the transaction is within limits, or an error describing
// the first violated cap.
func (l *Limiter) CheckLimit(
	level Level,
	action model.Action,
	amountUSD, dailyUSD, monthlyUSD decimal.Decimal,
) error {
	if action == model.ActionRepay {
		return nil
	}
	c := l.Caps(level)

	// 1. Borrow size.
	if action == model.ActionBorrow && amountUSD.GreaterThan(c.MaxBorrowUSD) {
		return fmt.Errorf("%w: %s tier allows %s per borrow", ErrBorrowLimitExceeded, c.Label, c.MaxBorrowUSD.StringFixed(2))
	}

	// 2. Single transaction.
	if amountUSD.GreaterThan(c.PerTxUSD) {
		return fmt.Errorf("%w: %s tier allows %s per transaction", ErrPerTxLimitExceeded, c.Label, c.PerTxUSD.StringFixed(2))
	}

	// 3. Rolling volume.
	if dailyUSD.Add(amountUSD).GreaterThan(c.DailyUSD) {
		return fmt.Errorf("%w: %s tier allows %s per day", ErrDailyLimitExceeded, c.Label, c.DailyUSD.StringFixed(2))
	}
	if monthlyUSD.Add(amountUSD).GreaterThan(c.MonthlyUSD) {
		return fmt.Errorf("%w: %s tier allows %s per month", ErrMonthlyLimitExceeded, c.Label, c.MonthlyUSD.StringFixed(2))
	}

	return nil
}
