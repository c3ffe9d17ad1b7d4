package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ReplaceConfig defines a full-table replacement.
type ReplaceConfig struct {
	Table   string   // target table, optionally schema-qualified
	Columns []string // columns being copied
	// LockTimeout bounds how long the exclusive table lock is waited for.
	// Zero waits indefinitely.
	LockTimeout time.Duration
}

// ReplaceAll swaps the table contents for rows in one transaction:
//  1. takes an exclusive lock on the table, bounded by LockTimeout
//  2. deletes every existing row
//  3. COPYs rows in
//
// Readers see either the old or the new contents. A lock timeout surfaces
// as an error for which IsLockConflict is true.
func ReplaceAll(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if cfg.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", cfg.LockTimeout.Milliseconds())); err != nil {
			return 0, eris.Wrap(err, "db: replace: set lock_timeout")
		}
	}
	table := sanitizeTable(cfg.Table)
	if _, err := tx.Exec(ctx, fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", table)); err != nil {
		return 0, eris.Wrapf(err, "db: replace: lock %s", cfg.Table)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return 0, eris.Wrapf(err, "db: replace: clear %s", cfg.Table)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, identifier(cfg.Table), cfg.Columns, pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", cfg.Table)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	committed = true
	return n, nil
}
