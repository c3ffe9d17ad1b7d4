package checkpoint

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxid-cli/internal/db"
	"github.com/sells-group/taxid-cli/internal/model"
)

// PostgresTable holds the results.
const PostgresTable = "taxid_results"

var postgresColumns = []string{
	"original_index", "input_key", "identifier", "status", "note", "aux", "worker_id", "run_id", "updated_at",
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS taxid_results (
	original_index INTEGER PRIMARY KEY,
	input_key      TEXT NOT NULL DEFAULT '',
	identifier     TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	aux            JSONB NOT NULL DEFAULT '{}'::jsonb,
	worker_id      INTEGER NOT NULL DEFAULT 0,
	run_id         TEXT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_taxid_results_status ON taxid_results(status);
`

// PostgresStore keeps results in a postgres table.
type PostgresStore struct {
	pool        db.Pool
	location    string
	runID       string
	lockTimeout time.Duration
}

// NewPostgres connects, pings and migrates. lockTimeout bounds how long a
// save waits for another session's table lock before failing with
// ErrLocked.
func NewPostgres(ctx context.Context, connString string, lockTimeout time.Duration) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgres(pool, cfg.ConnConfig.Host+"/"+cfg.ConnConfig.Database, lockTimeout)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgres(pool db.Pool, location string, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = time.Second
	}
	return &PostgresStore{pool: pool, location: location, runID: uuid.New().String(), lockTimeout: lockTimeout}
}

// Migrate creates the results table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Location implements Store.
func (s *PostgresStore) Location() string { return "postgres://" + s.location + "/" + PostgresTable }

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) ([]model.ResultRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT original_index, input_key, identifier, status, note, aux::text, worker_id FROM taxid_results ORDER BY original_index`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load results")
	}
	defer rows.Close()

	var out []model.ResultRecord
	for rows.Next() {
		var (
			r      model.ResultRecord
			status string
			aux    string
		)
		if err := rows.Scan(&r.Index, &r.InputKey, &r.Identifier, &status, &r.Note, &aux, &r.WorkerID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r.Status = model.ParseStatus(status)
		if r.Aux, err = decodeAux(aux); err != nil {
			return nil, eris.Wrapf(err, "postgres: aux of index %d", r.Index)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, results []model.ResultRecord) error {
	now := time.Now().UTC()
	deduped := dedupe(results)
	rows := make([][]any, 0, len(deduped))
	for _, r := range deduped {
		aux, err := encodeAux(r.Aux)
		if err != nil {
			return eris.Wrapf(err, "postgres: aux of index %d", r.Index)
		}
		rows = append(rows, []any{r.Index, r.InputKey, r.Identifier, string(r.Status), r.Note, aux, r.WorkerID, s.runID, now})
	}

	_, err := db.ReplaceAll(ctx, s.pool, db.ReplaceConfig{
		Table:       PostgresTable,
		Columns:     postgresColumns,
		LockTimeout: s.lockTimeout,
	}, rows)
	if err != nil {
		if db.IsLockConflict(err) {
			return eris.Wrapf(ErrLocked, "%s: %v", s.Location(), err)
		}
		return eris.Wrap(err, "postgres: save results")
	}
	return nil
}
