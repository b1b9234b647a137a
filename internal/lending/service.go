// Package lending provides the HTTP handlers and business logic for
// supplying, withdrawing, borrowing and repaying against lending reserves,
// and for querying account risk.
//
// Every mutation is projected on exact position copies, judged by the risk
// engine and the transaction limiter, and only then applied to the store
// and recorded in the immutable ledger.
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/limits"
	"github.com/atmx/lending-risk/internal/metrics"
	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/reserve"
	"github.com/atmx/lending-risk/internal/risk"
	"github.com/atmx/lending-risk/internal/store"
)

var (
	// ErrUnknownAction rejects actions other than supply, withdraw,
	// borrow and repay.
	ErrUnknownAction = errors.New("lending: unknown action")

	// ErrInvalidAmount rejects non-positive or malformed amounts.
	ErrInvalidAmount = errors.New("lending: amount must be positive")

	// ErrNoPrice is returned when the reserve has no positive price.
	ErrNoPrice = errors.New("lending: no price available")

	// ErrBorrowDisabled rejects borrows from reserves that cannot be borrowed.
	ErrBorrowDisabled = errors.New("lending: reserve cannot be borrowed")

	// ErrCollateralDisabled rejects enabling collateral on a reserve that
	// cannot back borrowing.
	ErrCollateralDisabled = errors.New("lending: reserve cannot be used as collateral")

	// ErrInsufficientBalance rejects withdrawals larger than the supply.
	ErrInsufficientBalance = errors.New("lending: insufficient supplied balance")

	// ErrNoDebt rejects repays when nothing is owed in the reserve.
	ErrNoDebt = errors.New("lending: no outstanding debt")
)

// RejectedError reports an action refused by the risk check or the limiter.
// Validation carries both account snapshots for the caller.
type RejectedError struct {
	Validation risk.Validation
}

func (e *RejectedError) Error() string { return e.Validation.Reason }
func (e *RejectedError) Unwrap() error { return e.Validation.Err }

// Service handles lending operations. Uses a mutex for serialized
// mutations (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store    store.Store
	limiter  *limits.Limiter
	level    limits.Level
	targetHF decimal.Decimal
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
	now      func() time.Time
}

// NewService creates a new lending service. level is the limit level for
// requests that do not name one; targetHF is the default solver target.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, limiter *limits.Limiter, hub *WSHub, level limits.Level, targetHF decimal.Decimal) *Service {
	if !targetHF.IsPositive() {
		targetHF = risk.DefaultTargetHF()
	}
	return &Service{
		store:    st,
		limiter:  limiter,
		level:    level,
		targetHF: targetHF,
		wsHub:    hub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// snapshot is everything the engine needs to evaluate one account.
type snapshot struct {
	supplies []model.SupplyPosition
	borrows  []model.BorrowPosition
	prices   risk.Prices
	previous risk.Tier
}

// load reads a user's positions, the prices they reference (plus extra
// symbols) and the last recorded tier.
func (s *Service) load(ctx context.Context, userID string, extra ...string) (*snapshot, error) {
	supplies, err := s.store.GetSupplies(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load supplies: %w", err)
	}
	borrows, err := s.store.GetBorrows(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load borrows: %w", err)
	}
	prices, err := s.store.GetPrices(ctx, append(store.Symbols(supplies, borrows), extra...))
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	previous, err := s.store.GetLastTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load tier: %w", err)
	}
	return &snapshot{supplies: supplies, borrows: borrows, prices: prices, previous: previous}, nil
}

func (sn *snapshot) evaluate() risk.Account {
	return risk.Evaluate(sn.supplies, sn.borrows, sn.prices, sn.previous)
}

// missingPrices lists referenced symbols without a price. Unpriced debt
// counts as zero, so callers surface these next to the account.
func (sn *snapshot) missingPrices() []string {
	return sn.prices.Missing(store.Symbols(sn.supplies, sn.borrows)...)
}

// AccountView is an account's risk summary with its positions and
// display hints.
type AccountView struct {
	UserID string `json:"user_id"`
	risk.Account
	Color         string                 `json:"color"`
	Message       string                 `json:"message"`
	Advice        string                 `json:"advice"`
	Supplies      []model.SupplyPosition `json:"supplies"`
	Borrows       []model.BorrowPosition `json:"borrows"`
	MissingPrices []string               `json:"missing_prices,omitempty"`
}

// Evaluate returns the user's current risk summary and records its tier
// as the previous tier for the next evaluation.
func (s *Service) Evaluate(ctx context.Context, userID string) (*AccountView, error) {
	// The recorded tier is read and written under the same lock as mutations.
	s.mu.Lock()
	defer s.mu.Unlock()

	sn, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	account := sn.evaluate()
	s.recordTier(ctx, userID, sn.previous, account)

	view := &AccountView{
		UserID:        userID,
		Account:       account,
		Color:         account.Tier.Color(),
		Message:       account.Tier.Message(),
		Advice:        risk.Advice(account, s.targetHF),
		Supplies:      sn.supplies,
		Borrows:       sn.borrows,
		MissingPrices: sn.missingPrices(),
	}
	if view.Supplies == nil {
		view.Supplies = []model.SupplyPosition{}
	}
	if view.Borrows == nil {
		view.Borrows = []model.BorrowPosition{}
	}
	return view, nil
}

// ActionRequest is a position change in asset units.
type ActionRequest struct {
	Action model.Action    `json:"action,omitempty"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// plan is a fully evaluated, not yet applied action.
type plan struct {
	userID     string
	level      limits.Level
	action     model.Action
	reserve    model.Reserve
	amount     decimal.Decimal // effective amount after clamping repays
	price      decimal.Decimal
	amountUSD  decimal.Decimal
	previous   risk.Tier
	validation risk.Validation
}

// prepare projects req on the user's positions. Input and lookup problems are
// returned as errors; risk and limit verdicts land in the plan's validation.
func (s *Service) prepare(ctx context.Context, userID string, level limits.Level, req ActionRequest) (*plan, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	symbol, err := reserve.NormalizeSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}

	res, err := s.store.GetReserve(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if req.Action == model.ActionBorrow && !res.CanBorrow {
		return nil, fmt.Errorf("%w: %s", ErrBorrowDisabled, symbol)
	}

	sn, err := s.load(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	price, ok := sn.prices[symbol]
	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	supplies, borrows, amount, err := applyAction(sn.supplies, sn.borrows, *res, req.Action, req.Amount)
	if err != nil {
		return nil, err
	}

	p := &plan{
		userID:    userID,
		level:     level,
		action:    req.Action,
		reserve:   *res,
		amount:    amount,
		price:     price,
		amountUSD: amount.Mul(price),
		previous:  sn.previous,
	}

	current := sn.evaluate()
	projected := risk.Evaluate(supplies, borrows, sn.prices, current.Tier)
	p.validation = risk.Validate(current, projected, req.Action)
	if !p.validation.Valid {
		return p, nil
	}

	limitErr, err := s.checkLimits(ctx, p)
	if err != nil {
		return nil, err
	}
	if limitErr != nil {
		p.validation.Valid = false
		p.validation.Err = limitErr
		p.validation.Reason = limitErr.Error()
	}
	return p, nil
}

// checkLimits returns the limiter's verdict, or an error if the ledger
// volumes cannot be read.
func (s *Service) checkLimits(ctx context.Context, p *plan) (verdict, err error) {
	now := s.now()
	daily, err := s.store.GetUserVolume(ctx, p.userID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("load daily volume: %w", err)
	}
	monthly, err := s.store.GetUserVolume(ctx, p.userID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, fmt.Errorf("load monthly volume: %w", err)
	}
	return s.limiter.CheckLimit(p.level, p.action, p.amountUSD, daily, monthly), nil
}

// applyAction returns copies of the positions with action applied and the
// effective amount. Repays above the outstanding debt are clamped to it.
func applyAction(
	supplies []model.SupplyPosition,
	borrows []model.BorrowPosition,
	res model.Reserve,
	action model.Action,
	amount decimal.Decimal,
) ([]model.SupplyPosition, []model.BorrowPosition, decimal.Decimal, error) {
	supplies = append([]model.SupplyPosition(nil), supplies...)
	borrows = append([]model.BorrowPosition(nil), borrows...)

	si, bi := -1, -1
	for i := range supplies {
		if supplies[i].Reserve.Symbol == res.Symbol {
			si = i
		}
	}
	for i := range borrows {
		if borrows[i].Reserve.Symbol == res.Symbol {
			bi = i
		}
	}

	switch action {
	case model.ActionSupply:
		if si < 0 {
			supplies = append(supplies, model.SupplyPosition{Reserve: res, UseAsCollateral: true})
			si = len(supplies) - 1
		}
		supplies[si].Quantity = supplies[si].Quantity.Add(amount)

	case model.ActionWithdraw:
		if si < 0 || supplies[si].Quantity.LessThan(amount) {
			return nil, nil, amount, fmt.Errorf("%w: %s", ErrInsufficientBalance, res.Symbol)
		}
		supplies[si].Quantity = supplies[si].Quantity.Sub(amount)

	case model.ActionBorrow:
		if bi < 0 {
			borrows = append(borrows, model.BorrowPosition{Reserve: res})
			bi = len(borrows) - 1
		}
		borrows[bi].Amount = borrows[bi].Amount.Add(amount)

	case model.ActionRepay:
		if bi < 0 || !borrows[bi].Amount.IsPositive() {
			return nil, nil, amount, fmt.Errorf("%w: %s", ErrNoDebt, res.Symbol)
		}
		if amount.GreaterThan(borrows[bi].Amount) {
			amount = borrows[bi].Amount
		}
		borrows[bi].Amount = borrows[bi].Amount.Sub(amount)
	}
	return supplies, borrows, amount, nil
}

// Check evaluates req without applying it.
func (s *Service) Check(ctx context.Context, userID string, level limits.Level, req ActionRequest) (risk.Validation, error) {
	p, err := s.prepare(ctx, userID, level, req)
	if err != nil {
		return risk.Validation{}, err
	}
	return p.validation, nil
}

// TransactionResult is returned from an applied action.
type TransactionResult struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Action        model.Action    `json:"action"`
	Symbol        string          `json:"symbol"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	AmountUSD     decimal.Decimal `json:"amount_usd"`
	Warnings      []string        `json:"warnings,omitempty"`
	Account       risk.Account    `json:"account"`
}

// Execute validates and applies req. Refused actions return a
// *RejectedError.
func (s *Service) Execute(ctx context.Context, userID string, level limits.Level, req ActionRequest) (*TransactionResult, error) {
	start := time.Now()

	// Serialize mutations.
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.prepare(ctx, userID, level, req)
	if err != nil {
		return nil, err
	}
	if !p.validation.Valid {
		s.observeRejection(p)
		return nil, &RejectedError{Validation: p.validation}
	}

	// The position change and its immutable ledger entry are stored together.
	entry := &model.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    p.action,
		Symbol:    p.reserve.Symbol,
		Amount:    p.amount,
		Price:     p.price,
		AmountUSD: p.amountUSD,
		Timestamp: s.now(),
	}
	if err := s.store.ApplyEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("apply %s: %w", p.action, err)
	}

	projected := p.validation.Projected
	s.recordTier(ctx, userID, p.previous, projected)

	metrics.TransactionsTotal.WithLabelValues(string(p.action)).Inc()
	metrics.TransactionLatency.WithLabelValues(string(p.action)).Observe(time.Since(start).Seconds())

	slog.Info("transaction executed",
		"tx_id", entry.ID,
		"user", userID,
		"action", p.action,
		"symbol", p.reserve.Symbol,
		"amount", p.amount.String(),
		"amount_usd", p.amountUSD.String(),
		"health_factor", projected.HealthFactor.StringFixed(4),
		"tier", projected.Tier.String(),
	)

	return &TransactionResult{
		TransactionID: entry.ID,
		UserID:        userID,
		Action:        p.action,
		Symbol:        p.reserve.Symbol,
		Amount:        p.amount,
		Price:         p.price,
		AmountUSD:     p.amountUSD,
		Warnings:      p.validation.Warnings,
		Account:       projected,
	}, nil
}

// SetCollateral toggles whether a supply position backs borrowing.
// Disabling is judged like a withdrawal of the position.
func (s *Service) SetCollateral(ctx context.Context, userID, symbol string, use bool) (risk.Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol, err := reserve.NormalizeSymbol(symbol)
	if err != nil {
		return risk.Validation{}, err
	}
	res, err := s.store.GetReserve(ctx, symbol)
	if err != nil {
		return risk.Validation{}, err
	}
	if use && !res.CanBeCollateral {
		return risk.Validation{}, fmt.Errorf("%w: %s", ErrCollateralDisabled, symbol)
	}

	sn, err := s.load(ctx, userID)
	if err != nil {
		return risk.Validation{}, err
	}
	supplies := append([]model.SupplyPosition(nil), sn.supplies...)
	found := false
	for i := range supplies {
		if supplies[i].Reserve.Symbol == symbol {
			supplies[i].UseAsCollateral = use
			found = true
		}
	}
	if !found {
		return risk.Validation{}, fmt.Errorf("supply %s: %w", symbol, store.ErrNotFound)
	}

	current := sn.evaluate()
	projected := risk.Evaluate(supplies, sn.borrows, sn.prices, current.Tier)
	action := model.ActionSupply
	if !use {
		action = model.ActionWithdraw
	}
	v := risk.Validate(current, projected, action)
	if !v.Valid {
		metrics.ValidationRejections.WithLabelValues(rejectionReason(v.Err)).Inc()
		return v, &RejectedError{Validation: v}
	}

	if err := s.store.SetCollateral(ctx, userID, symbol, use); err != nil {
		return v, err
	}
	s.recordTier(ctx, userID, sn.previous, projected)

	slog.Info("collateral toggled",
		"user", userID,
		"symbol", symbol,
		"use_as_collateral", use,
		"health_factor", projected.HealthFactor.StringFixed(4),
	)
	return v, nil
}

// SetPrice records a new USD price for an existing reserve.
func (s *Service) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) (string, error) {
	symbol, err := reserve.NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	if price.IsNegative() {
		return "", fmt.Errorf("%w: price %s", ErrInvalidAmount, price)
	}
	if _, err := s.store.GetReserve(ctx, symbol); err != nil {
		return "", err
	}
	if err := s.store.SetPrice(ctx, symbol, price); err != nil {
		return "", err
	}

	slog.Info("price updated", "symbol", symbol, "price", price.String())

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   "price_updated",
			Symbol: symbol,
			Price:  price.String(),
		})
	}
	return symbol, nil
}

// recordTier persists the tier of a fresh evaluation and reports changes.
func (s *Service) recordTier(ctx context.Context, userID string, previous risk.Tier, a risk.Account) {
	metrics.RiskEvaluations.WithLabelValues(a.Tier.String()).Inc()
	if a.DebtUSD.IsPositive() {
		metrics.HealthFactor.Observe(a.HealthFactor.InexactFloat64())
	}

	if a.Tier == previous {
		return
	}
	if err := s.store.SetLastTier(ctx, userID, a.Tier); err != nil {
		slog.Error("failed to record tier", "user", userID, "err", err)
		return
	}
	if previous == risk.TierNone {
		return
	}

	metrics.TierTransitions.WithLabelValues(previous.String(), a.Tier.String()).Inc()
	slog.Info("tier changed",
		"user", userID,
		"from", previous.String(),
		"to", a.Tier.String(),
		"health_factor", a.HealthFactor.StringFixed(4),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "tier_changed",
			UserID:       userID,
			Tier:         a.Tier.String(),
			PreviousTier: previous.String(),
			HealthFactor: a.HealthFactor.StringFixed(4),
			Color:        a.Tier.Color(),
		})
	}
}

func (s *Service) observeRejection(p *plan) {
	if errors.Is(p.validation.Err, limits.ErrPerTxLimitExceeded) ||
		errors.Is(p.validation.Err, limits.ErrDailyLimitExceeded) ||
		errors.Is(p.validation.Err, limits.ErrMonthlyLimitExceeded) ||
		errors.Is(p.validation.Err, limits.ErrBorrowLimitExceeded) {
		metrics.LimitRejections.WithLabelValues(string(p.level)).Inc()
	} else {
		metrics.ValidationRejections.WithLabelValues(rejectionReason(p.validation.Err)).Inc()
	}

	slog.Warn("transaction rejected",
		"user", p.userID,
		"action", p.action,
		"symbol", p.reserve.Symbol,
		"amount_usd", p.amountUSD.String(),
		"reason", p.validation.Reason,
	)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrLiquidationRisk):
		return "liquidation_risk"
	case errors.Is(err, risk.ErrHighRisk):
		return "high_risk"
	case errors.Is(err, risk.ErrInsufficientHeadroom):
		return "insufficient_headroom"
	}
	return "other"
}
