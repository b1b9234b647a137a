package store

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reserves (
		symbol            TEXT PRIMARY KEY,
		ltv               NUMERIC NOT NULL,
		liq_th            NUMERIC NOT NULL,
		can_be_collateral BOOLEAN NOT NULL DEFAULT TRUE,
		can_borrow        BOOLEAN NOT NULL DEFAULT TRUE,
		CHECK (ltv >= 0 AND liq_th <= 1 AND liq_th >= ltv)
	)`,
	`CREATE TABLE IF NOT EXISTS prices (
		symbol     TEXT PRIMARY KEY REFERENCES reserves (symbol),
		price      NUMERIC NOT NULL CHECK (price >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS supply_positions (
		user_id           TEXT NOT NULL,
		symbol            TEXT NOT NULL REFERENCES reserves (symbol),
		quantity          NUMERIC NOT NULL,
		use_as_collateral BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS borrow_positions (
		user_id TEXT NOT NULL,
		symbol  TEXT NOT NULL REFERENCES reserves (symbol),
		amount  NUMERIC NOT NULL,
		PRIMARY KEY (user_id, symbol)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL,
		action     TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		amount     NUMERIC NOT NULL,
		price      NUMERIC NOT NULL,
		amount_usd NUMERIC NOT NULL,
		timestamp  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_user_ts ON ledger_entries (user_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS risk_state (
		user_id    TEXT PRIMARY KEY,
		tier       TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables PostgresStore needs if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
