// Package store defines the persistence interface for the lending service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The risk engine never touches the store: handlers load positions and
// prices here, hand them to the engine by value, and persist the outcome.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/risk"
)

var (
	// ErrNotFound is returned when a reserve or position does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNoPositionChange is returned by ApplyEntry for entries whose
	// action does not move a position.
	ErrNoPositionChange = errors.New("store: action does not change a position")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Reserves ---

	// UpsertReserve creates or replaces a reserve definition.
	UpsertReserve(ctx context.Context, r model.Reserve) error

	// GetReserve retrieves a reserve by symbol.
	GetReserve(ctx context.Context, symbol string) (*model.Reserve, error)

	// ListReserves returns all reserves ordered by symbol.
	ListReserves(ctx context.Context) ([]model.Reserve, error)

	// --- Prices ---

	// SetPrice records the latest USD price for a symbol.
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error

	// GetPrices returns the latest prices for symbols. Symbols without a
	// price are absent from the result.
	GetPrices(ctx context.Context, symbols []string) (risk.Prices, error)

	// --- Positions ---

	// GetSupplies returns a user's supply positions with their reserves.
	GetSupplies(ctx context.Context, userID string) ([]model.SupplyPosition, error)

	// GetBorrows returns a user's borrow positions with their reserves.
	GetBorrows(ctx context.Context, userID string) ([]model.BorrowPosition, error)

	// AdjustSupply adds delta (possibly negative) to a supply position,
	// creating it with collateral enabled if needed.
	AdjustSupply(ctx context.Context, userID, symbol string, delta decimal.Decimal) error

	// SetCollateral toggles whether a supply position backs borrowing.
	SetCollateral(ctx context.Context, userID, symbol string, use bool) error

	// AdjustBorrow adds delta (possibly negative) to a borrow position.
	AdjustBorrow(ctx context.Context, userID, symbol string, delta decimal.Decimal) error

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable action record.
	InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// ApplyEntry applies the position change described by entry and
	// appends it to the ledger. Both writes happen or neither does.
	ApplyEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntriesByUser returns all actions for a user, newest first.
	GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// GetUserVolume sums the USD value of a user's limited actions
	// (everything except repays) since the given time.
	GetUserVolume(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)

	// --- Risk state ---

	// GetLastTier returns the tier from the user's previous evaluation,
	// or risk.TierNone.
	GetLastTier(ctx context.Context, userID string) (risk.Tier, error)

	// SetLastTier records the tier of the latest evaluation.
	SetLastTier(ctx context.Context, userID string, tier risk.Tier) error
}

// Symbols returns the distinct reserve symbols referenced by positions.
func Symbols(supplies []model.SupplyPosition, borrows []model.BorrowPosition) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range supplies {
		add(s.Reserve.Symbol)
	}
	for _, b := range borrows {
		add(b.Reserve.Symbol)
	}
	return out
}

// positionDelta returns the signed position change of a ledger entry and
// whether it moves the borrow side.
func positionDelta(e *model.LedgerEntry) (delta decimal.Decimal, borrow bool, err error) {
	switch e.Action {
	case model.ActionSupply:
		return e.Amount, false, nil
	case model.ActionWithdraw:
		return e.Amount.Neg(), false, nil
	case model.ActionBorrow:
		return e.Amount, true, nil
	case model.ActionRepay:
		return e.Amount.Neg(), true, nil
	}
	return decimal.Zero, false, fmt.Errorf("%w: %q", ErrNoPositionChange, e.Action)
}
