package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
)

var (
	// ErrLiquidationRisk rejects actions that leave HF at or below 1.
	ErrLiquidationRisk = errors.New("risk: action would make the account liquidatable")

	// ErrHighRisk rejects actions that leave HF below CriticalHF.
	ErrHighRisk = errors.New("risk: action would push health factor below the critical level")

	// ErrInsufficientHeadroom rejects borrows larger than the LTV headroom.
	ErrInsufficientHeadroom = errors.New("risk: insufficient borrowing capacity")

	liquidationHF = decimal.NewFromInt(1)
	criticalHF    = decimal.RequireFromString("1.05")
	warnHF        = decimal.RequireFromString("1.20")
)

// LiquidationHF is the health factor at or below which an account can be
// liquidated.
func LiquidationHF() decimal.Decimal { return liquidationHF }

// CriticalHF blocks risk-increasing actions below it.
func CriticalHF() decimal.Decimal { return criticalHF }

// WarnHF attaches a warning to risk-increasing actions below it.
func WarnHF() decimal.Decimal { return warnHF }

// Account is the risk summary of one lending account.
type Account struct {
	CollateralUSD        decimal.Decimal `json:"collateral_usd"`
	DebtUSD              decimal.Decimal `json:"debt_usd"`
	LTVWeighted          decimal.Decimal `json:"ltv_weighted"`
	LiqThresholdWeighted decimal.Decimal `json:"liq_threshold_weighted"`
	AvailableBorrowUSD   decimal.Decimal `json:"available_borrow_usd"`
	HealthFactor         decimal.Decimal `json:"health_factor"`
	Tier                 Tier            `json:"tier"`
}

// Evaluate aggregates positions into an Account, classifying the tier
// with previous as the last observed tier.
func Evaluate(
	supplies []model.SupplyPosition,
	borrows []model.BorrowPosition,
	prices Prices,
	previous Tier,
) Account {
	collateral, liqThreshold := TotalCollateralUSD(supplies, prices)
	ltv := WeightedLTV(supplies, prices)
	debt := TotalDebtUSD(borrows, prices)
	return summarize(collateral, debt, ltv, liqThreshold, previous)
}

func summarize(collateral, debt, ltv, liqThreshold decimal.Decimal, previous Tier) Account {
	hf := HealthFactor(collateral, liqThreshold, debt)
	return Account{
		CollateralUSD:        collateral,
		DebtUSD:              debt,
		LTVWeighted:          ltv,
		LiqThresholdWeighted: liqThreshold,
		AvailableBorrowUSD:   AvailableBorrowUSD(collateral, ltv, debt),
		HealthFactor:         hf,
		Tier:                 ClassifyTier(hf, previous),
	}
}

// EstimateAfterRepay projects the account after repaying repayUSD of debt.
// Debt is floored at zero; collateral and weighted ratios are unchanged.
// The account's current tier is the previous tier of the projection.
func EstimateAfterRepay(a Account, repayUSD decimal.Decimal) Account {
	debt := maxZero(a.DebtUSD.Sub(repayUSD))
	return summarize(a.CollateralUSD, debt, a.LTVWeighted, a.LiqThresholdWeighted, a.Tier)
}

// Simulate projects the account after an action worth amountUSD, holding
// the weighted LTV and liquidation threshold constant. Collateral and debt
// are floored at zero. Unknown actions return the account unchanged.
func Simulate(a Account, action model.Action, amountUSD decimal.Decimal) Account {
	collateral, debt := a.CollateralUSD, a.DebtUSD
	switch action {
	case model.ActionSupply:
		collateral = collateral.Add(amountUSD)
	case model.ActionWithdraw:
		collateral = maxZero(collateral.Sub(amountUSD))
	case model.ActionBorrow:
		debt = debt.Add(amountUSD)
	case model.ActionRepay:
		debt = maxZero(debt.Sub(amountUSD))
	default:
		return a
	}
	return summarize(collateral, debt, a.LTVWeighted, a.LiqThresholdWeighted, a.Tier)
}

// Validation is the verdict on a proposed action.
type Validation struct {
	Valid     bool     `json:"is_valid"`
	Reason    string   `json:"reason,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Current   Account  `json:"current"`
	Projected Account  `json:"projected"`

	// Err is the sentinel behind Reason, for errors.Is matching.
	Err error `json:"-"`
}

// IncreasesRisk reports whether action can lower the health factor.
func IncreasesRisk(action model.Action) bool {
	return action == model.ActionBorrow || action == model.ActionWithdraw
}

// Validate judges moving from current to projected via action.
//
// Supplies and repays are always accepted. Borrows must fit within the
// current headroom. Risk-increasing actions are rejected when the projected
// HF is at or below LiquidationHF or below CriticalHF, and carry a warning
// below WarnHF.
func Validate(current, projected Account, action model.Action) Validation {
	v := Validation{Valid: true, Current: current, Projected: projected}
	if !IncreasesRisk(action) {
		return v
	}

	hf := projected.HealthFactor
	switch {
	case action == model.ActionBorrow &&
		projected.DebtUSD.Sub(current.DebtUSD).GreaterThan(current.AvailableBorrowUSD):
		v.reject(fmt.Errorf("%w: requested %s, available %s", ErrInsufficientHeadroom,
			FormatUSD(projected.DebtUSD.Sub(current.DebtUSD)), FormatUSD(current.AvailableBorrowUSD)))
	case hf.LessThanOrEqual(liquidationHF):
		v.reject(fmt.Errorf("%w: health factor %s", ErrLiquidationRisk, hf.StringFixed(2)))
	case hf.LessThan(criticalHF):
		v.reject(fmt.Errorf("%w: health factor %s < %s", ErrHighRisk, hf.StringFixed(2), criticalHF.StringFixed(2)))
	case hf.LessThan(warnHF):
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("health factor would drop to %s (%s)", hf.StringFixed(2), projected.Tier.Message()))
	}
	return v
}

func (v *Validation) reject(err error) {
	v.Valid = false
	v.Err = err
	v.Reason = err.Error()
}
