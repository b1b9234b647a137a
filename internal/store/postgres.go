package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/risk"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values and ratios are stored as NUMERIC for exact decimal
// precision and read back through ::TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const reserveColumns = `symbol, ltv::TEXT, liq_th::TEXT, can_be_collateral, can_borrow`

func (s *PostgresStore) UpsertReserve(ctx context.Context, r model.Reserve) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reserves (symbol, ltv, liq_th, can_be_collateral, can_borrow)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4, $5)
		 ON CONFLICT (symbol) DO UPDATE
		 SET ltv = EXCLUDED.ltv, liq_th = EXCLUDED.liq_th,
		     can_be_collateral = EXCLUDED.can_be_collateral, can_borrow = EXCLUDED.can_borrow`,
		r.Symbol, r.LTV.String(), r.LiquidationThreshold.String(), r.CanBeCollateral, r.CanBorrow,
	)
	return err
}

func (s *PostgresStore) GetReserve(ctx context.Context, symbol string) (*model.Reserve, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reserveColumns+` FROM reserves WHERE symbol = $1`, symbol)

	r, err := scanReserve(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reserve %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reserve %s: %w", symbol, err)
	}
	return &r, nil
}

func (s *PostgresStore) ListReserves(ctx context.Context) ([]model.Reserve, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reserveColumns+` FROM reserves ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reserves []model.Reserve
	for rows.Next() {
		r, err := scanReserve(rows)
		if err != nil {
			return nil, err
		}
		reserves = append(reserves, r)
	}
	return reserves, rows.Err()
}

func (s *PostgresStore) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prices (symbol, price, updated_at)
		 VALUES ($1, $2::NUMERIC, now())
		 ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at`,
		symbol, price.String(),
	)
	return err
}

func (s *PostgresStore) GetPrices(ctx context.Context, symbols []string) (risk.Prices, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price::TEXT FROM prices WHERE symbol = ANY($1)`, symbols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(risk.Prices, len(symbols))
	for rows.Next() {
		var sym, priceS string
		if err := rows.Scan(&sym, &priceS); err != nil {
			return nil, err
		}
		prices[sym], _ = decimal.NewFromString(priceS)
	}
	return prices, rows.Err()
}

func (s *PostgresStore) GetSupplies(ctx context.Context, userID string) ([]model.SupplyPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.symbol, r.ltv::TEXT, r.liq_th::TEXT, r.can_be_collateral, r.can_borrow,
		        sp.quantity::TEXT, sp.use_as_collateral
		 FROM supply_positions sp
		 JOIN reserves r ON r.symbol = sp.symbol
		 WHERE sp.user_id = $1
		 ORDER BY r.symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.SupplyPosition
	for rows.Next() {
		var p model.SupplyPosition
		var ltvS, ltS, qtyS string
		if err := rows.Scan(&p.Reserve.Symbol, &ltvS, &ltS,
			&p.Reserve.CanBeCollateral, &p.Reserve.CanBorrow,
			&qtyS, &p.UseAsCollateral); err != nil {
			return nil, err
		}
		p.Reserve.LTV, _ = decimal.NewFromString(ltvS)
		p.Reserve.LiquidationThreshold, _ = decimal.NewFromString(ltS)
		p.Quantity, _ = decimal.NewFromString(qtyS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) GetBorrows(ctx context.Context, userID string) ([]model.BorrowPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.symbol, r.ltv::TEXT, r.liq_th::TEXT, r.can_be_collateral, r.can_borrow,
		        bp.amount::TEXT
		 FROM borrow_positions bp
		 JOIN reserves r ON r.symbol = bp.symbol
		 WHERE bp.user_id = $1
		 ORDER BY r.symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.BorrowPosition
	for rows.Next() {
		var p model.BorrowPosition
		var ltvS, ltS, amountS string
		if err := rows.Scan(&p.Reserve.Symbol, &ltvS, &ltS,
			&p.Reserve.CanBeCollateral, &p.Reserve.CanBorrow,
			&amountS); err != nil {
			return nil, err
		}
		p.Reserve.LTV, _ = decimal.NewFromString(ltvS)
		p.Reserve.LiquidationThreshold, _ = decimal.NewFromString(ltS)
		p.Amount, _ = decimal.NewFromString(amountS)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) AdjustSupply(ctx context.Context, userID, symbol string, delta decimal.Decimal) error {
	return adjustSupply(ctx, s.pool, userID, symbol, delta)
}

func adjustSupply(ctx context.Context, db pgxExecer, userID, symbol string, delta decimal.Decimal) error {
	_, err := db.Exec(ctx,
		`INSERT INTO supply_positions (user_id, symbol, quantity, use_as_collateral)
		 VALUES ($1, $2, $3::NUMERIC, TRUE)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET quantity = supply_positions.quantity + EXCLUDED.quantity`,
		userID, symbol, delta.String(),
	)
	return err
}

func (s *PostgresStore) SetCollateral(ctx context.Context, userID, symbol string, use bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE supply_positions SET use_as_collateral = $3
		 WHERE user_id = $1 AND symbol = $2`,
		userID, symbol, use,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supply %s/%s: %w", userID, symbol, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AdjustBorrow(ctx context.Context, userID, symbol string, delta decimal.Decimal) error {
	return adjustBorrow(ctx, s.pool, userID, symbol, delta)
}

func adjustBorrow(ctx context.Context, db pgxExecer, userID, symbol string, delta decimal.Decimal) error {
	_, err := db.Exec(ctx,
		`INSERT INTO borrow_positions (user_id, symbol, amount)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (user_id, symbol) DO UPDATE
		 SET amount = borrow_positions.amount + EXCLUDED.amount`,
		userID, symbol, delta.String(),
	)
	return err
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return insertLedgerEntry(ctx, s.pool, e)
}

// ApplyEntry moves the position and inserts the ledger row in one
// transaction.
func (s *PostgresStore) ApplyEntry(ctx context.Context, e *model.LedgerEntry) error {
	delta, borrow, err := positionDelta(e)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if borrow {
		err = adjustBorrow(ctx, tx, e.UserID, e.Symbol, delta)
	} else {
		err = adjustSupply(ctx, tx, e.UserID, e.Symbol, delta)
	}
	if err != nil {
		return err
	}
	if err := insertLedgerEntry(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertLedgerEntry(ctx context.Context, db pgxExecer, e *model.LedgerEntry) error {
	_, err := db.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, action, symbol, amount, price, amount_usd, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		e.ID, e.UserID, string(e.Action), e.Symbol,
		e.Amount.String(), e.Price.String(), e.AmountUSD.String(),
		e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, action, symbol,
		        amount::TEXT, price::TEXT, amount_usd::TEXT, timestamp
		 FROM ledger_entries WHERE user_id = $1 ORDER BY timestamp DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLedgerEntries(rows)
}

func (s *PostgresStore) GetUserVolume(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var totalS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_usd), 0)::TEXT
		 FROM ledger_entries
		 WHERE user_id = $1 AND action <> $2 AND timestamp >= $3`,
		userID, string(model.ActionRepay), since).Scan(&totalS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("user volume %s: %w", userID, err)
	}
	total, _ := decimal.NewFromString(totalS)
	return total, nil
}

func (s *PostgresStore) GetLastTier(ctx context.Context, userID string) (risk.Tier, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT tier FROM risk_state WHERE user_id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return risk.TierNone, nil
	}
	if err != nil {
		return risk.TierNone, fmt.Errorf("get last tier %s: %w", userID, err)
	}
	return risk.ParseTier(name)
}

func (s *PostgresStore) SetLastTier(ctx context.Context, userID string, tier risk.Tier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_state (user_id, tier, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`,
		userID, tier.String(),
	)
	return err
}

// pgxExecer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanReserve(row pgxRow) (model.Reserve, error) {
	var r model.Reserve
	var ltvS, ltS string
	if err := row.Scan(&r.Symbol, &ltvS, &ltS, &r.CanBeCollateral, &r.CanBorrow); err != nil {
		return r, err
	}
	r.LTV, _ = decimal.NewFromString(ltvS)
	r.LiquidationThreshold, _ = decimal.NewFromString(ltS)
	return r, nil
}

// scanLedgerEntries reads pgx rows into LedgerEntry slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanLedgerEntries(rows pgxRows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var action, amountS, priceS, usdS string

		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Symbol,
			&amountS, &priceS, &usdS, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Action = model.Action(action)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.Price, _ = decimal.NewFromString(priceS)
		e.AmountUSD, _ = decimal.NewFromString(usdS)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}
