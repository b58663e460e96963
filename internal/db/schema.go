package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tracked_records (
		entry_id     TEXT        NOT NULL,
		record_key   TEXT        NOT NULL,
		kind         TEXT        NOT NULL,
		account_code TEXT        NOT NULL,
		name         TEXT        NOT NULL DEFAULT '',
		state        JSONB,
		attributes   JSONB       NOT NULL DEFAULT '{}'::jsonb,
		available    BOOLEAN     NOT NULL DEFAULT TRUE,
		updated_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (entry_id, record_key)
	);
	CREATE INDEX IF NOT EXISTS idx_tracked_records_account
		ON tracked_records (entry_id, account_code);
`

// EnsureSchema creates the tables used by the worker when missing
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("[DATABASE] failed to ensure schema: %w", err)
	}
	return nil
}
