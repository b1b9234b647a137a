// Package model defines the core domain types shared across the lending
// risk service. All monetary values and ratios use shopspring/decimal;
// never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reserve is an asset available for lending together with its risk
// parameters. Reserves are read-only inputs to the risk engine.
type Reserve struct {
	Symbol               string          `json:"symbol" yaml:"symbol" db:"symbol"`
	LTV                  decimal.Decimal `json:"ltv" yaml:"ltv" db:"ltv"`                                        // 0..1
	LiquidationThreshold decimal.Decimal `json:"liquidation_threshold" yaml:"liquidation_threshold" db:"liq_th"` // 0..1, >= LTV
	CanBeCollateral      bool            `json:"can_be_collateral" yaml:"can_be_collateral" db:"can_be_collateral"`
	CanBorrow            bool            `json:"can_borrow" yaml:"can_borrow" db:"can_borrow"`
}

// SupplyPosition is a user's deposit in one reserve. Only positions with
// UseAsCollateral set on a reserve that CanBeCollateral back borrowing.
type SupplyPosition struct {
	Reserve         Reserve         `json:"reserve" yaml:"reserve"`
	Quantity        decimal.Decimal `json:"quantity" yaml:"quantity"`
	UseAsCollateral bool            `json:"use_as_collateral" yaml:"use_as_collateral"`
}

// BorrowPosition is a user's outstanding debt in one reserve.
type BorrowPosition struct {
	Reserve Reserve         `json:"reserve" yaml:"reserve"`
	Amount  decimal.Decimal `json:"amount" yaml:"amount"`
}

// Action is a position-changing operation on a lending account.
type Action string

const (
	ActionSupply   Action = "supply"
	ActionWithdraw Action = "withdraw"
	ActionBorrow   Action = "borrow"
	ActionRepay    Action = "repay"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionSupply, ActionWithdraw, ActionBorrow, ActionRepay:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of an applied lending action.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Action    Action          `json:"action" db:"action"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`         // asset units
	Price     decimal.Decimal `json:"price" db:"price"`           // USD price at execution
	AmountUSD decimal.Decimal `json:"amount_usd" db:"amount_usd"` // amount × price
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}
