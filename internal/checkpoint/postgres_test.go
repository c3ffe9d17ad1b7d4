package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taxid-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return newPostgres(mock, "db/taxid", time.Second), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS taxid_results`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	s, mock := newMockStore(t)
	rows := mock.NewRows([]string{"original_index", "input_key", "identifier", "status", "note", "aux", "worker_id"}).
		AddRow(0, "ACME SAC", "20100047218", "ACTIVE", "Exito", `{"numero_original":"7"}`, 0).
		AddRow(1, "BETA SA", "", "CONNECTION_ERROR", "ERROR CONEXION: reset", "{}", 1)
	mock.ExpectQuery(`SELECT original_index, .* FROM taxid_results ORDER BY original_index`).WillReturnRows(rows)

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "7", got[0].Aux["numero_original"])
	assert.Equal(t, model.StatusConnectionError, got[1].Status)
	assert.Equal(t, 1, got[1].WorkerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReplacesTable(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout = 1000`).WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`LOCK TABLE "taxid_results" IN EXCLUSIVE MODE`).WillReturnResult(pgxmock.NewResult("LOCK TABLE", 0))
	mock.ExpectExec(`DELETE FROM "taxid_results"`).WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{PostgresTable}, postgresColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.Save(context.Background(), sampleResults()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LockTimeoutIsErrLocked(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`SET LOCAL lock_timeout`).WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec(`LOCK TABLE`).WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	err := s.Save(context.Background(), sampleResults())
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OtherErrorsAreNotLocks(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := s.Save(context.Background(), sampleResults())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}

func TestPostgresStore_Location(t *testing.T) {
	s, _ := newMockStore(t)
	assert.Equal(t, "postgres://db/taxid/taxid_results", s.Location())
}
