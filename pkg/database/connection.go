package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/config"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
	_ "modernc.org/sqlite"
)

// DB represents the local database handle shared by the store and the queue
type DB struct {
	*sql.DB
	path   string
	logger *logger.Logger
}

// Open opens (creating if needed) the SQLite file and applies the schema.
// Any failure is reported as a storage unavailable error.
func Open(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (*DB, error) {
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, types.NewStorageUnavailableError("failed to create data directory", err)
		}
	}

	path := cfg.Path()
	sqlDB, err := sql.Open("sqlite", dsn(path, cfg.BusyTimeout))
	if err != nil {
		return nil, types.NewStorageUnavailableError("failed to open database", err)
	}

	// SQLite allows a single writer; every caller shares one connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, types.NewStorageUnavailableError("failed to configure database", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: log}
	if err := db.CreateSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, types.NewStorageUnavailableError("failed to initialise schema", err)
	}

	log.WithField("path", path).Info("Database opened successfully")
	return db, nil
}

// dsn builds the connection string. The driver runs each _pragma on every
// connection it opens.
func dsn(path string, busyTimeout int) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// Wrap adopts an existing handle without touching the schema
func Wrap(sqlDB *sql.DB, log *logger.Logger) *DB {
	return &DB{DB: sqlDB, logger: log}
}

// Path returns the database file location
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

// WithTx runs fn inside a transaction, committing if fn returns nil
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.WithError(rbErr).Warn("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
