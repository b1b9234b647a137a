package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/risk"
)

type supplyRow struct {
	quantity        decimal.Decimal
	useAsCollateral bool
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	reserves map[string]model.Reserve
	prices   map[string]decimal.Decimal
	supplies map[string]map[string]*supplyRow      // user → symbol → row
	borrows  map[string]map[string]decimal.Decimal // user → symbol → amount
	ledger   []model.LedgerEntry
	tiers    map[string]risk.Tier
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reserves: make(map[string]model.Reserve),
		prices:   make(map[string]decimal.Decimal),
		supplies: make(map[string]map[string]*supplyRow),
		borrows:  make(map[string]map[string]decimal.Decimal),
		tiers:    make(map[string]risk.Tier),
	}
}

func (s *MemoryStore) UpsertReserve(_ context.Context, r model.Reserve) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reserves[r.Symbol] = r
	return nil
}

func (s *MemoryStore) GetReserve(_ context.Context, symbol string) (*model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reserves[symbol]
	if !ok {
		return nil, fmt.Errorf("reserve %s: %w", symbol, ErrNotFound)
	}
	return &r, nil
}

func (s *MemoryStore) ListReserves(_ context.Context) ([]model.Reserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reserves := make([]model.Reserve, 0, len(s.reserves))
	for _, r := range s.reserves {
		reserves = append(reserves, r)
	}
	sort.Slice(reserves, func(i, j int) bool { return reserves[i].Symbol < reserves[j].Symbol })
	return reserves, nil
}

func (s *MemoryStore) SetPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[symbol] = price
	return nil
}

func (s *MemoryStore) GetPrices(_ context.Context, symbols []string) (risk.Prices, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := make(risk.Prices, len(symbols))
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			prices[sym] = p
		}
	}
	return prices, nil
}

func (s *MemoryStore) GetSupplies(_ context.Context, userID string) ([]model.SupplyPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.SupplyPosition
	for sym, row := range s.supplies[userID] {
		positions = append(positions, model.SupplyPosition{
			Reserve:         s.reserves[sym],
			Quantity:        row.quantity,
			UseAsCollateral: row.useAsCollateral,
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Reserve.Symbol < positions[j].Reserve.Symbol })
	return positions, nil
}

func (s *MemoryStore) GetBorrows(_ context.Context, userID string) ([]model.BorrowPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var positions []model.BorrowPosition
	for sym, amount := range s.borrows[userID] {
		positions = append(positions, model.BorrowPosition{
			Reserve: s.reserves[sym],
			Amount:  amount,
		})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Reserve.Symbol < positions[j].Reserve.Symbol })
	return positions, nil
}

func (s *MemoryStore) AdjustSupply(_ context.Context, userID, symbol string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustSupply(userID, symbol, delta)
}

// adjustSupply requires s.mu to be held for writing.
func (s *MemoryStore) adjustSupply(userID, symbol string, delta decimal.Decimal) error {
	if _, ok := s.reserves[symbol]; !ok {
		return fmt.Errorf("reserve %s: %w", symbol, ErrNotFound)
	}
	rows, ok := s.supplies[userID]
	if !ok {
		rows = make(map[string]*supplyRow)
		s.supplies[userID] = rows
	}
	row, ok := rows[symbol]
	if !ok {
		row = &supplyRow{useAsCollateral: true}
		rows[symbol] = row
	}
	row.quantity = row.quantity.Add(delta)
	return nil
}

func (s *MemoryStore) SetCollateral(_ context.Context, userID, symbol string, use bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.supplies[userID][symbol]
	if !ok {
		return fmt.Errorf("supply %s/%s: %w", userID, symbol, ErrNotFound)
	}
	row.useAsCollateral = use
	return nil
}

func (s *MemoryStore) AdjustBorrow(_ context.Context, userID, symbol string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.adjustBorrow(userID, symbol, delta)
}

// adjustBorrow requires s.mu to be held for writing.
func (s *MemoryStore) adjustBorrow(userID, symbol string, delta decimal.Decimal) error {
	if _, ok := s.reserves[symbol]; !ok {
		return fmt.Errorf("reserve %s: %w", symbol, ErrNotFound)
	}
	rows, ok := s.borrows[userID]
	if !ok {
		rows = make(map[string]decimal.Decimal)
		s.borrows[userID] = rows
	}
	rows[symbol] = rows[symbol].Add(delta)
	return nil
}

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) ApplyEntry(_ context.Context, entry *model.LedgerEntry) error {
	delta, borrow, err := positionDelta(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if borrow {
		err = s.adjustBorrow(entry.UserID, entry.Symbol, delta)
	} else {
		err = s.adjustSupply(entry.UserID, entry.Symbol, delta)
	}
	if err != nil {
		return err
	}
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].UserID == userID {
			result = append(result, s.ledger[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) GetUserVolume(_ context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, e := range s.ledger {
		if e.UserID != userID || e.Action == model.ActionRepay || e.Timestamp.Before(since) {
			continue
		}
		total = total.Add(e.AmountUSD)
	}
	return total, nil
}

func (s *MemoryStore) GetLastTier(_ context.Context, userID string) (risk.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tiers[userID], nil
}

func (s *MemoryStore) SetLastTier(_ context.Context, userID string, tier risk.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tiers[userID] = tier
	return nil
}
