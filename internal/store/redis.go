package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/risk"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertReserve(ctx context.Context, r model.Reserve) error {
	if err := s.primary.UpsertReserve(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, reserveKey(r.Symbol), reservesKey)
	return nil
}

func (s *CachedStore) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	if err := s.primary.SetPrice(ctx, symbol, price); err != nil {
		return err
	}
	s.rdb.HSet(ctx, pricesKey, symbol, price.String())
	return nil
}

func (s *CachedStore) AdjustSupply(ctx context.Context, userID, symbol string, delta decimal.Decimal) error {
	if err := s.primary.AdjustSupply(ctx, userID, symbol, delta); err != nil {
		return err
	}
	s.rdb.Del(ctx, suppliesKey(userID))
	return nil
}

func (s *CachedStore) SetCollateral(ctx context.Context, userID, symbol string, use bool) error {
	if err := s.primary.SetCollateral(ctx, userID, symbol, use); err != nil {
		return err
	}
	s.rdb.Del(ctx, suppliesKey(userID))
	return nil
}

func (s *CachedStore) AdjustBorrow(ctx context.Context, userID, symbol string, delta decimal.Decimal) error {
	if err := s.primary.AdjustBorrow(ctx, userID, symbol, delta); err != nil {
		return err
	}
	s.rdb.Del(ctx, borrowsKey(userID))
	return nil
}

func (s *CachedStore) ApplyEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := s.primary.ApplyEntry(ctx, entry); err != nil {
		return err
	}
	if _, borrow, _ := positionDelta(entry); borrow {
		s.rdb.Del(ctx, borrowsKey(entry.UserID))
	} else {
		s.rdb.Del(ctx, suppliesKey(entry.UserID))
	}
	return nil
}

func (s *CachedStore) SetLastTier(ctx context.Context, userID string, tier risk.Tier) error {
	if err := s.primary.SetLastTier(ctx, userID, tier); err != nil {
		return err
	}
	s.rdb.Set(ctx, tierKey(userID), tier.String(), s.ttl)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetReserve(ctx context.Context, symbol string) (*model.Reserve, error) {
	var r model.Reserve
	if s.getJSON(ctx, reserveKey(symbol), &r) {
		return &r, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetReserve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.setJSON(ctx, reserveKey(symbol), got)
	return got, nil
}

func (s *CachedStore) ListReserves(ctx context.Context) ([]model.Reserve, error) {
	var reserves []model.Reserve
	if s.getJSON(ctx, reservesKey, &reserves) {
		return reserves, nil
	}

	reserves, err := s.primary.ListReserves(ctx)
	if err != nil {
		return nil, err
	}

	s.setJSON(ctx, reservesKey, reserves)
	return reserves, nil
}

func (s *CachedStore) GetPrices(ctx context.Context, symbols []string) (risk.Prices, error) {
	if len(symbols) == 0 {
		return risk.Prices{}, nil
	}

	// Try cache; any miss falls back to the primary for the full set.
	vals, err := s.rdb.HMGet(ctx, pricesKey, symbols...).Result()
	if err == nil {
		prices := make(risk.Prices, len(symbols))
		complete := true
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				complete = false
				break
			}
			p, err := decimal.NewFromString(str)
			if err != nil {
				complete = false
				break
			}
			prices[symbols[i]] = p
		}
		if complete {
			return prices, nil
		}
	}

	prices, err := s.primary.GetPrices(ctx, symbols)
	if err != nil {
		return nil, err
	}

	if len(prices) > 0 {
		fields := make(map[string]any, len(prices))
		for sym, p := range prices {
			fields[sym] = p.String()
		}
		pipe := s.rdb.Pipeline()
		pipe.HSet(ctx, pricesKey, fields)
		pipe.Expire(ctx, pricesKey, s.ttl)
		_, _ = pipe.Exec(ctx)
	}
	return prices, nil
}

func (s *CachedStore) GetSupplies(ctx context.Context, userID string) ([]model.SupplyPosition, error) {
	var rows []positionRow
	if s.getJSON(ctx, suppliesKey(userID), &rows) {
		if positions, err := s.supplyPositions(ctx, rows); err == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetSupplies(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows = make([]positionRow, len(positions))
	for i, p := range positions {
		rows[i] = positionRow{Symbol: p.Reserve.Symbol, Amount: p.Quantity, UseAsCollateral: p.UseAsCollateral}
	}
	s.setJSON(ctx, suppliesKey(userID), rows)
	return positions, nil
}

func (s *CachedStore) GetBorrows(ctx context.Context, userID string) ([]model.BorrowPosition, error) {
	var rows []positionRow
	if s.getJSON(ctx, borrowsKey(userID), &rows) {
		if positions, err := s.borrowPositions(ctx, rows); err == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetBorrows(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows = make([]positionRow, len(positions))
	for i, p := range positions {
		rows[i] = positionRow{Symbol: p.Reserve.Symbol, Amount: p.Amount}
	}
	s.setJSON(ctx, borrowsKey(userID), rows)
	return positions, nil
}

func (s *CachedStore) GetLastTier(ctx context.Context, userID string) (risk.Tier, error) {
	name, err := s.rdb.Get(ctx, tierKey(userID)).Result()
	if err == nil {
		if t, err := risk.ParseTier(name); err == nil {
			return t, nil
		}
	}

	t, err := s.primary.GetLastTier(ctx, userID)
	if err != nil {
		return risk.TierNone, err
	}

	s.rdb.Set(ctx, tierKey(userID), t.String(), s.ttl)
	return t, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, entry)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, userID)
}

func (s *CachedStore) GetUserVolume(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	return s.primary.GetUserVolume(ctx, userID, since)
}

// --- Cache helpers ---

// positionRow is the cached form of a position. Reserve parameters are not
// cached with it; they are resolved through GetReserve on every read so a
// reserve update is visible to all accounts holding it.
type positionRow struct {
	Symbol          string          `json:"symbol"`
	Amount          decimal.Decimal `json:"amount"`
	UseAsCollateral bool            `json:"use_as_collateral,omitempty"`
}

func (s *CachedStore) supplyPositions(ctx context.Context, rows []positionRow) ([]model.SupplyPosition, error) {
	out := make([]model.SupplyPosition, 0, len(rows))
	for _, row := range rows {
		r, err := s.GetReserve(ctx, row.Symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, model.SupplyPosition{Reserve: *r, Quantity: row.Amount, UseAsCollateral: row.UseAsCollateral})
	}
	return out, nil
}

func (s *CachedStore) borrowPositions(ctx context.Context, rows []positionRow) ([]model.BorrowPosition, error) {
	out := make([]model.BorrowPosition, 0, len(rows))
	for _, row := range rows {
		r, err := s.GetReserve(ctx, row.Symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, model.BorrowPosition{Reserve: *r, Amount: row.Amount})
	}
	return out, nil
}

func (s *CachedStore) getJSON(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) setJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const (
	reservesKey = "reserves"
	pricesKey   = "prices"
)

func reserveKey(sym string) string  { return fmt.Sprintf("reserve:%s", sym) }
func suppliesKey(uid string) string { return fmt.Sprintf("supplies:%s", uid) }
func borrowsKey(uid string) string  { return fmt.Sprintf("borrows:%s", uid) }
func tierKey(uid string) string     { return fmt.Sprintf("tier:%s", uid) }
