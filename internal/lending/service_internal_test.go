package lending

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/limits"
	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/risk"
	"github.com/atmx/lending-risk/internal/store"
)

var eth = model.Reserve{
	Symbol:               "ETH",
	LTV:                  decimal.RequireFromString("0.8"),
	LiquidationThreshold: decimal.RequireFromString("0.825"),
	CanBeCollateral:      true,
	CanBorrow:            true,
}

func TestApplyAction_DoesNotMutateInputs(t *testing.T) {
	supplies := []model.SupplyPosition{{Reserve: eth, Quantity: decimal.NewFromInt(2), UseAsCollateral: true}}
	borrows := []model.BorrowPosition{{Reserve: eth, Amount: decimal.NewFromInt(1)}}

	gotS, gotB, amount, err := applyAction(supplies, borrows, eth, model.ActionWithdraw, decimal.NewFromInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if !gotS[0].Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("projected quantity: want 1, got %s", gotS[0].Quantity)
	}
	if !supplies[0].Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("input mutated: %s", supplies[0].Quantity)
	}
	if len(gotB) != 1 || !amount.Equal(decimal.NewFromInt(1)) {
		t.Errorf("unexpected borrows %v or amount %s", gotB, amount)
	}
}

func TestApplyAction_NewPositions(t *testing.T) {
	gotS, _, _, err := applyAction(nil, nil, eth, model.ActionSupply, decimal.NewFromInt(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(gotS) != 1 || !gotS[0].UseAsCollateral || !gotS[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("unexpected supply projection: %+v", gotS)
	}

	_, gotB, _, err := applyAction(nil, nil, eth, model.ActionBorrow, decimal.NewFromInt(4))
	if err != nil {
		t.Fatal(err)
	}
	if len(gotB) != 1 || !gotB[0].Amount.Equal(decimal.NewFromInt(4)) {
		t.Errorf("unexpected borrow projection: %+v", gotB)
	}
}

func TestApplyAction_Errors(t *testing.T) {
	_, _, _, err := applyAction(nil, nil, eth, model.ActionWithdraw, decimal.NewFromInt(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("withdraw without supply: got %v", err)
	}
	_, _, _, err = applyAction(nil, nil, eth, model.ActionRepay, decimal.NewFromInt(1))
	if !errors.Is(err, ErrNoDebt) {
		t.Errorf("repay without debt: got %v", err)
	}
}

func TestRecordTier_BroadcastsChange(t *testing.T) {
	ms := store.NewMemoryStore()
	hub := NewWSHub()
	svc := NewService(ms, limits.NewLimiter(nil), hub, limits.LevelPremium, decimal.Zero)
	ctx := context.Background()

	// First evaluation only records the tier.
	svc.recordTier(ctx, "u1", risk.TierNone, risk.Account{Tier: risk.TierSafe})
	select {
	case msg := <-hub.broadcast:
		t.Fatalf("unexpected broadcast %s", msg)
	default:
	}

	svc.recordTier(ctx, "u1", risk.TierSafe, risk.Account{
		Tier:         risk.TierAtRisk,
		DebtUSD:      decimal.NewFromInt(100),
		HealthFactor: decimal.RequireFromString("1.02"),
	})

	var msg WSMessage
	select {
	case data := <-hub.broadcast:
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
	default:
		t.Fatal("expected tier_changed broadcast")
	}
	if msg.Type != "tier_changed" || msg.Tier != "AT_RISK" || msg.PreviousTier != "SAFE" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.HealthFactor != "1.0200" {
		t.Errorf("health factor: want 1.0200, got %s", msg.HealthFactor)
	}

	tier, _ := ms.GetLastTier(ctx, "u1")
	if tier != risk.TierAtRisk {
		t.Errorf("last tier: want AT_RISK, got %s", tier)
	}
}

func TestNewService_DefaultTarget(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), limits.NewLimiter(nil), nil, limits.LevelStarter, decimal.Zero)
	if !svc.targetHF.Equal(risk.DefaultTargetHF()) {
		t.Errorf("target: want %s, got %s", risk.DefaultTargetHF(), svc.targetHF)
	}
}

// brokenLedger refuses every ledger write.
type brokenLedger struct {
	*store.MemoryStore
}

func (brokenLedger) ApplyEntry(context.Context, *model.LedgerEntry) error {
	return errors.New("ledger unavailable")
}

func TestExecute_LedgerFailureLeavesPositions(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	if err := ms.UpsertReserve(ctx, eth); err != nil {
		t.Fatal(err)
	}
	if err := ms.SetPrice(ctx, "ETH", decimal.NewFromInt(2000)); err != nil {
		t.Fatal(err)
	}
	svc := NewService(brokenLedger{ms}, limits.NewLimiter(nil), nil, limits.LevelPremium, decimal.Zero)

	_, err := svc.Execute(ctx, "u1", limits.LevelPremium, ActionRequest{Action: model.ActionSupply, Symbol: "ETH", Amount: decimal.NewFromInt(1)})
	if err == nil {
		t.Fatal("expected error when the ledger cannot be written")
	}

	supplies, _ := ms.GetSupplies(ctx, "u1")
	if len(supplies) != 0 {
		t.Errorf("position changed without a ledger entry: %+v", supplies)
	}
}

func TestEvaluate_WaitsForMutations(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, limits.NewLimiter(nil), nil, limits.LevelPremium, decimal.Zero)

	svc.mu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.Evaluate(context.Background(), "u1"); err != nil {
			t.Error(err)
		}
	}()

	select {
	case <-done:
		t.Fatal("Evaluate ran while a mutation held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	svc.mu.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Evaluate did not finish after the lock was released")
	}
}
