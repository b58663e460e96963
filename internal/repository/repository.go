package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/utility-sync-worker/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository persists tracked record snapshots
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const upsertRecordQuery = `
	INSERT INTO tracked_records (
		entry_id, record_key, kind, account_code, name,
		state, attributes, available, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (entry_id, record_key) DO UPDATE SET
		name = EXCLUDED.name,
		state = EXCLUDED.state,
		attributes = EXCLUDED.attributes,
		available = EXCLUDED.available,
		updated_at = EXCLUDED.updated_at
`

// UpsertRecord inserts or replaces a record snapshot
func (r *Repository) UpsertRecord(ctx context.Context, rec *db.TrackedRecord) error {
	_, err := r.pool.Exec(ctx, upsertRecordQuery,
		rec.EntryID,
		rec.RecordKey,
		rec.Kind,
		rec.AccountCode,
		rec.Name,
		rec.State,
		rec.Attributes,
		rec.Available,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.RecordKey, err)
	}
	return nil
}

// DeleteRecord removes a record snapshot
func (r *Repository) DeleteRecord(ctx context.Context, entryID, recordKey string) error {
	query := `
		DELETE FROM tracked_records
		WHERE entry_id = $1 AND record_key = $2
	`

	if _, err := r.pool.Exec(ctx, query, entryID, recordKey); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", recordKey, err)
	}
	return nil
}

// ListRecords returns every snapshot of a config entry
func (r *Repository) ListRecords(ctx context.Context, entryID string) ([]db.TrackedRecord, error) {
	query := `
		SELECT entry_id, record_key, kind, account_code, name, state, attributes, available, updated_at
		FROM tracked_records
		WHERE entry_id = $1
		ORDER BY record_key
	`

	rows, err := r.pool.Query(ctx, query, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []db.TrackedRecord
	for rows.Next() {
		var rec db.TrackedRecord
		if err := rows.Scan(
			&rec.EntryID,
			&rec.RecordKey,
			&rec.Kind,
			&rec.AccountCode,
			&rec.Name,
			&rec.State,
			&rec.Attributes,
			&rec.Available,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// PruneRecordsTx deletes every snapshot of an entry whose key is not in keep
func (r *Repository) PruneRecordsTx(ctx context.Context, tx pgx.Tx, entryID string, keep []string) (int64, error) {
	query := `
		DELETE FROM tracked_records
		WHERE entry_id = $1 AND NOT (record_key = ANY($2))
	`

	tag, err := tx.Exec(ctx, query, entryID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ReplaceRecords atomically stores the given snapshots and prunes every
// other snapshot of the entry
func (r *Repository) ReplaceRecords(ctx context.Context, entryID string, records []db.TrackedRecord) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	keep := make([]string, 0, len(records))
	for i := range records {
		rec := &records[i]
		if _, err := tx.Exec(ctx, upsertRecordQuery,
			rec.EntryID, rec.RecordKey, rec.Kind, rec.AccountCode, rec.Name,
			rec.State, rec.Attributes, rec.Available, rec.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", rec.RecordKey, err)
		}
		keep = append(keep, rec.RecordKey)
	}

	if _, err := r.PruneRecordsTx(ctx, tx, entryID, keep); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
