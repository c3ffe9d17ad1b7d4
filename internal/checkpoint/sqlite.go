package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"

	"github.com/sells-group/taxid-cli/internal/model"
)

// SQLiteStore keeps results in a SQLite database using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	runID string
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS results (
	original_index INTEGER PRIMARY KEY,
	input_key      TEXT NOT NULL DEFAULT '',
	identifier     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	aux            TEXT NOT NULL DEFAULT '{}',
	worker_id      INTEGER NOT NULL DEFAULT 0,
	run_id         TEXT NOT NULL,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_results_status ON results(status);
`

// NewSQLite opens the database at path in WAL mode and creates the
// results table. busyTimeout bounds how long a write waits for another
// connection's lock before failing with ErrLocked.
func NewSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	if busyTimeout <= 0 {
		busyTimeout = time.Second
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: db, path: path, runID: uuid.New().String()}, nil
}

// Location implements Store.
func (s *SQLiteStore) Location() string { return s.path }

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) ([]model.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT original_index, input_key, identifier, status, note, aux, worker_id FROM results ORDER BY original_index`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ResultRecord
	for rows.Next() {
		var (
			r      model.ResultRecord
			status string
			aux    string
		)
		if err := rows.Scan(&r.Index, &r.InputKey, &r.Identifier, &status, &r.Note, &aux, &r.WorkerID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r.Status = model.ParseStatus(status)
		if r.Aux, err = decodeAux(aux); err != nil {
			return nil, eris.Wrapf(err, "sqlite: aux of index %d", r.Index)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

// Save implements Store. The table is replaced in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, results []model.ResultRecord) error {
	err := s.save(ctx, dedupe(results))
	if err != nil && isSQLiteBusy(err) {
		return eris.Wrapf(ErrLocked, "%s: %v", s.path, err)
	}
	return err
}

func (s *SQLiteStore) save(ctx context.Context, results []model.ResultRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM results`); err != nil {
		return eris.Wrap(err, "sqlite: clear results")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (original_index, input_key, identifier, status, note, aux, worker_id, run_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(original_index) DO UPDATE SET
		   input_key = excluded.input_key, identifier = excluded.identifier, status = excluded.status,
		   note = excluded.note, aux = excluded.aux, worker_id = excluded.worker_id,
		   run_id = excluded.run_id, updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range results {
		aux, err := encodeAux(r.Aux)
		if err != nil {
			return eris.Wrapf(err, "sqlite: aux of index %d", r.Index)
		}
		if _, err := stmt.ExecContext(ctx, r.Index, r.InputKey, r.Identifier, string(r.Status), r.Note, aux, r.WorkerID, s.runID, now); err != nil {
			return eris.Wrapf(err, "sqlite: insert index %d", r.Index)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// SQLite primary result codes for a held lock.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
