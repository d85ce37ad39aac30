package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/config"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

func TestOpen_CreatesSchema(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{DataDir: t.TempDir(), FileName: "emr.db", BusyTimeout: 1000}

	db, err := Open(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, cfg.Path(), db.Path())
	require.NoError(t, db.Health(ctx))

	for _, table := range []string{"patients", "medical_records", "appointments", "sync_queue"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

func TestOpen_PragmasApplyToEveryConnection(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{DataDir: t.TempDir(), FileName: "emr.db", BusyTimeout: 1234}

	db, err := Open(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	// No idle connections: each query below runs on a freshly opened one.
	db.SetMaxIdleConns(0)

	for i := 0; i < 2; i++ {
		var timeout, synchronous int
		var journal string
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&synchronous))
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal))
		assert.Equal(t, 1234, timeout)
		assert.Equal(t, 1, synchronous, "NORMAL")
		assert.Equal(t, "wal", journal)
	}
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{DataDir: t.TempDir(), FileName: "emr.db"}

	db, err := Open(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO patients (id, status, doc, created_at, updated_at) VALUES ('P1', 'active', '{}', 'x', 'x')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	defer db.Close()

	var id string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT id FROM patients").Scan(&id))
	assert.Equal(t, "P1", id)
}

func TestOpen_StorageUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))

	_, err := Open(context.Background(), config.StorageConfig{DataDir: blocker, FileName: "emr.db"}, logger.Discard())
	require.Error(t, err)
	assert.True(t, types.IsStorageUnavailable(err))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := Wrap(sqlDB, logger.Discard())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM patients").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := assert.AnError
	err = db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM patients WHERE id = ?", "P1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_Commits(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := Wrap(sqlDB, logger.Discard())

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, db.WithTx(context.Background(), func(tx *sql.Tx) error { return nil }))
	assert.NoError(t, mock.ExpectationsWereMet())
}
