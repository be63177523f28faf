// Package staging writes access zone lists into the Salto staging table.
//
// The staging table is the official handover point into Salto: an external
// process picks up rows marked to_be_processed and applies them. Rows are
// never deleted here; revoking access means blanking a row's zone list so
// Salto processes the removal.
package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one staged user: an external identity and the access zone list it
// should end up with.
type Entry struct {
	ExtID    string
	ZoneList string
}

// Reconciler reconciles the staging table against a desired set of entries.
type Reconciler struct {
	pool *pgxpool.Pool
}

// NewReconciler creates a Reconciler with the given connection pool.
// The caller is responsible for closing the pool when done.
func NewReconciler(pool *pgxpool.Pool) (*Reconciler, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &Reconciler{pool: pool}, nil
}

// Reconcile makes the staging table match the desired entries:
//  1. Rows for users no longer in the desired set get their zone list blanked
//     and are marked for processing, so Salto revokes their access.
//  2. Desired entries are upserted and marked for processing.
//
// Rows already blanked with no error bookkeeping left are untouched, so
// repeated cycles do not mark unchanged rows over and over. A blank row that
// still carries an error is re-marked so Salto retries the failed revocation.
// The operation runs in a single serializable transaction.
func (r *Reconciler) Reconcile(ctx context.Context, entries []Entry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			_ = rollbackErr
		}
	}()

	if err := r.blankStaleRows(ctx, tx, entries); err != nil {
		return err
	}

	if err := r.upsertEntries(ctx, tx, entries); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// blankStaleRows revokes access for all users not in the desired set.
func (*Reconciler) blankStaleRows(ctx context.Context, tx pgx.Tx, entries []Entry) error {
	desired := make([]string, 0, len(entries))
	for _, entry := range entries {
		desired = append(desired, entry.ExtID)
	}

	_, err := tx.Exec(ctx, `
		UPDATE salto_staging_user
		SET access_zones = '',
		    to_be_processed = TRUE,
		    processed_at = NULL,
		    error_code = NULL,
		    error_message = NULL
		WHERE ext_id <> ALL($1)
		  AND (access_zones <> '' OR error_code IS NOT NULL OR error_message IS NOT NULL)`,
		desired,
	)
	if err != nil {
		return fmt.Errorf("failed to blank stale rows: %w", err)
	}
	return nil
}

// upsertEntries writes the desired zone lists and marks the rows for
// processing, resetting any bookkeeping from earlier processing attempts.
func (*Reconciler) upsertEntries(ctx context.Context, tx pgx.Tx, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(`
			INSERT INTO salto_staging_user (ext_id, access_zones, to_be_processed, processed_at, error_code, error_message)
			VALUES ($1, $2, TRUE, NULL, NULL, NULL)
			ON CONFLICT (ext_id) DO UPDATE
			SET access_zones = EXCLUDED.access_zones,
			    to_be_processed = TRUE,
			    processed_at = NULL,
			    error_code = NULL,
			    error_message = NULL`,
			entry.ExtID, entry.ZoneList,
		)
	}

	results := tx.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert staging entry: %w", err)
		}
	}

	return results.Close()
}
