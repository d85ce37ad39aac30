// Package syncqueue is the durable FIFO log of mutations made while offline.
package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/database"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// DefaultMaxRetries is the number of failed replays tolerated before an
// entry is marked failed.
const DefaultMaxRetries = 3

// ErrNotPending is returned by MarkProcessing when the entry is not pending
var ErrNotPending = errors.New("sync entry is not pending")

// Queue stores SyncQueueEntry rows in the sync_queue table
type Queue struct {
	db         *database.DB
	logger     *logger.Logger
	maxRetries int
	now        func() time.Time
}

// Option configures a Queue
type Option func(*Queue)

// WithMaxRetries overrides the retry bound
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue over db
func New(db *database.DB, log *logger.Logger, opts ...Option) *Queue {
	q := &Queue{
		db:         db,
		logger:     log,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// MaxRetries returns the configured retry bound
func (q *Queue) MaxRetries() int {
	return q.maxRetries
}

// Enqueue appends a pending entry in its own transaction
func (q *Queue) Enqueue(ctx context.Context, op types.SyncOperation, payload types.Payload) (*types.SyncQueueEntry, error) {
	var entry *types.SyncQueueEntry
	err := q.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = q.EnqueueTx(ctx, tx, op, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// EnqueueTx appends a pending entry inside the caller's transaction. The
// timestamp is strictly greater than every timestamp already queued.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, op types.SyncOperation, payload types.Payload) (*types.SyncQueueEntry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync payload: %w", err)
	}

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(timestamp), 0) FROM sync_queue`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read last sync timestamp: %w", err)
	}

	ts := q.now().UnixMilli()
	if ts <= last {
		ts = last + 1
	}

	entry := &types.SyncQueueEntry{
		ID:        newEntryID(ts),
		Operation: op,
		Entity:    payload.Kind,
		Data:      payload,
		Timestamp: ts,
		Retries:   0,
		Status:    types.SyncStatusPending,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_queue (id, operation, entity, data, timestamp, retries, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Operation), string(entry.Entity), string(data), entry.Timestamp, entry.Retries, string(entry.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sync entry: %w", err)
	}

	q.logger.WithFields(map[string]interface{}{
		"entry_id":  entry.ID,
		"operation": entry.Operation,
		"entity":    entry.Entity,
		"record_id": payload.ID(),
	}).Debug("Queued offline mutation")

	return entry, nil
}

func newEntryID(ts int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
	return fmt.Sprintf("sync_%d_%s", ts, suffix)
}

// PendingIDs returns a snapshot of pending entry ids in replay order
func (q *Queue) PendingIDs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id FROM sync_queue
		WHERE status = ?
		ORDER BY timestamp ASC, rowid ASC`, string(types.SyncStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const selectEntry = `SELECT id, operation, entity, data, timestamp, retries, status, last_error FROM sync_queue`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*types.SyncQueueEntry, error) {
	var (
		entry                    types.SyncQueueEntry
		op, entity, data, status string
	)
	if err := s.Scan(&entry.ID, &op, &entity, &data, &entry.Timestamp, &entry.Retries, &status, &entry.LastError); err != nil {
		return nil, err
	}

	entry.Operation = types.SyncOperation(op)
	entry.Entity = types.EntityKind(entity)
	entry.Status = types.SyncStatus(status)

	payload, err := types.DecodePayload(entry.Operation, entry.Entity, []byte(data))
	if err != nil {
		return nil, err
	}
	entry.Data = payload
	return &entry, nil
}

// Get returns one entry, or a not found error
func (q *Queue) Get(ctx context.Context, id string) (*types.SyncQueueEntry, error) {
	entry, err := scanEntry(q.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("sync entry %s not found", id))
		}
		return nil, fmt.Errorf("failed to get sync entry: %w", err)
	}
	return entry, nil
}

// MarkProcessing moves a pending entry to processing
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`,
		string(types.SyncStatusProcessing), id, string(types.SyncStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark entry processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark entry processing: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// MarkPendingWithRetry records a failed replay. The retry count is
// incremented and the entry returns to pending, or becomes failed once the
// count exceeds the retry bound. The updated entry is returned.
func (q *Queue) MarkPendingWithRetry(ctx context.Context, id string, cause error) (*types.SyncQueueEntry, error) {
	var entry *types.SyncQueueEntry
	err := q.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, err = scanEntry(tx.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id))
		if err != nil {
			if err == sql.ErrNoRows {
				return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("sync entry %s not found", id))
			}
			return fmt.Errorf("failed to load sync entry: %w", err)
		}

		entry.Retries++
		entry.Status = types.SyncStatusPending
		if entry.Retries > q.maxRetries {
			entry.Status = types.SyncStatusFailed
		}
		entry.LastError = ""
		if cause != nil {
			entry.LastError = cause.Error()
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE sync_queue SET retries = ?, status = ?, last_error = ? WHERE id = ?`,
			entry.Retries, string(entry.Status), entry.LastError, id,
		)
		if err != nil {
			return fmt.Errorf("failed to record sync retry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Release returns a processing entry to pending without counting a retry.
// It is used when a replay was interrupted rather than rejected.
func (q *Queue) Release(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`,
		string(types.SyncStatusPending), id, string(types.SyncStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to release sync entry: %w", err)
	}
	return nil
}

// Remove deletes an entry after a confirmed replay
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove sync entry: %w", err)
	}
	return nil
}

// CountByStatus returns the number of entries in status
func (q *Queue) CountByStatus(ctx context.Context, status types.SyncStatus) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync entries: %w", err)
	}
	return n, nil
}

// Status returns the pending and failed counts
func (q *Queue) Status(ctx context.Context) (types.SyncStatusReport, error) {
	var report types.SyncStatusReport

	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return report, fmt.Errorf("failed to read sync status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return report, fmt.Errorf("failed to scan sync status: %w", err)
		}
		switch types.SyncStatus(status) {
		case types.SyncStatusPending:
			report.Pending = n
		case types.SyncStatusFailed:
			report.Failed = n
		}
	}
	return report, rows.Err()
}

// List returns entries in replay order. An empty status lists every entry.
func (q *Queue) List(ctx context.Context, status types.SyncStatus) ([]types.SyncQueueEntry, error) {
	query := selectEntry
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY timestamp ASC, rowid ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync entries: %w", err)
	}
	defer rows.Close()

	entries := []types.SyncQueueEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// RetryFailed returns failed entries to pending so the next drain attempts
// them once more. Retry counts are kept, so another failure marks them
// failed again. It is an operator action and never runs automatically.
func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(types.SyncStatusPending), string(types.SyncStatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed entries: %w", err)
	}
	return res.RowsAffected()
}

// ResetProcessing returns entries left processing by an interrupted drain
// to pending. Call it once at startup before any drain runs.
func (q *Queue) ResetProcessing(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE sync_queue SET status = ? WHERE status = ?`,
		string(types.SyncStatusPending), string(types.SyncStatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.WithField("entries", n).Warn("Recovered sync entries left processing")
	}
	return n, nil
}
