// Package store is the durable record store for patients, medical records
// and appointments. Mutations made while offline are queued for replay in
// the same transaction as the write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sugreev38/v0-hospital-emr-software/internal/syncqueue"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/database"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// TimeLayout is the ISO-8601 form used for createdAt and updatedAt
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ConnectivityChecker reports whether the remote target is reachable
type ConnectivityChecker interface {
	IsOnline() bool
}

// Store provides CRUD over the entity collections
type Store struct {
	db      *database.DB
	queue   *syncqueue.Queue
	online  ConnectivityChecker
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	ids     idGenerator
	now     func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithMetrics records store operations into m
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store. The queue must share db.
func New(db *database.DB, queue *syncqueue.Queue, online ConnectivityChecker, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		queue:  queue,
		online: online,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func tableFor(c types.Collection) (table, error) {
	t, ok := tables[c]
	if !ok {
		return table{}, types.NewValidationError(types.ErrCodeInvalidInput, "unknown collection", map[string]interface{}{
			"collection": string(c),
		})
	}
	return t, nil
}

func (s *Store) observe(ctx context.Context, c types.Collection, op string, start time.Time, rows int64, err error) {
	s.metrics.RecordStoreOperation(string(c), op, err)
	s.logger.DatabaseOperation(ctx, op, string(c), time.Since(start).Milliseconds(), rows, err == nil, nil)
}

// Save writes e, assigning an id and createdAt when missing and always
// refreshing updatedAt. When offline one update entry is queued in the same
// transaction. The entity is updated in place and its id returned.
func (s *Store) Save(ctx context.Context, e types.Entity) (string, error) {
	return s.save(ctx, e, false)
}

// Create is Save for new entities only. A client-chosen id that is already
// stored fails with a conflict error and nothing is written.
func (s *Store) Create(ctx context.Context, e types.Entity) (string, error) {
	return s.save(ctx, e, true)
}

func (s *Store) save(ctx context.Context, e types.Entity, create bool) (id string, err error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	c := e.Kind().Collection()
	t, err := tableFor(c)
	if err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { s.observe(ctx, c, "save", start, 1, err) }()

	meta := e.Meta()
	original := *meta
	now := s.now().UTC()
	stamp := now.Format(TimeLayout)

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if meta.ID == "" {
			newID, err := s.freshID(ctx, tx, t, c.IDPrefix(), now)
			if err != nil {
				return err
			}
			meta.ID = newID
			meta.CreatedAt = stamp
		} else {
			var created string
			err := tx.QueryRowContext(ctx, `SELECT created_at FROM `+t.name+` WHERE id = ?`, meta.ID).Scan(&created)
			switch {
			case err == nil && create:
				return types.NewConflictError(fmt.Sprintf("%s %s already exists", c, meta.ID),
					map[string]interface{}{"id": meta.ID})
			case err == nil:
				meta.CreatedAt = created
			case err == sql.ErrNoRows:
				if meta.CreatedAt == "" {
					meta.CreatedAt = stamp
				}
			default:
				return fmt.Errorf("failed to read %s %s: %w", c, meta.ID, err)
			}
		}
		meta.UpdatedAt = stamp

		if err := s.put(ctx, tx, t, e); err != nil {
			return err
		}

		if !s.online.IsOnline() {
			if _, err := s.queue.EnqueueTx(ctx, tx, types.SyncOperationUpdate, types.NewPayload(e)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		*meta = original
		return "", err
	}
	return meta.ID, nil
}

// freshID generates an id that is not already stored in t
func (s *Store) freshID(ctx context.Context, tx *sql.Tx, t table, prefix string, now time.Time) (string, error) {
	for {
		id := s.ids.next(prefix, now)
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+t.name+` WHERE id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check id %s: %w", id, err)
		}
	}
}

func (s *Store) put(ctx context.Context, tx *sql.Tx, t table, e types.Entity) error {
	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}

	meta := e.Meta()
	cols, vals := indexedColumns(e)
	cols = append([]string{"id"}, cols...)
	cols = append(cols, "doc", "created_at", "updated_at")
	args := append([]interface{}{meta.ID}, vals...)
	args = append(args, string(doc), meta.CreatedAt, meta.UpdatedAt)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`, t.name, strings.Join(cols, ", "), placeholders)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", e.Kind(), meta.ID, err)
	}
	return nil
}

// Delete removes id from c. When offline one delete entry is queued in the
// same transaction, whether or not the record existed locally.
func (s *Store) Delete(ctx context.Context, c types.Collection, id string) (err error) {
	t, err := tableFor(c)
	if err != nil {
		return err
	}

	start := time.Now()
	var rows int64
	defer func() { s.observe(ctx, c, "delete", start, rows, err) }()

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", c, id, err)
		}
		rows, _ = res.RowsAffected()

		if !s.online.IsOnline() {
			if _, err := s.queue.EnqueueTx(ctx, tx, types.SyncOperationDelete, types.NewDeletionPayload(c.Kind(), id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAll returns every record in c ordered by id
func (s *Store) GetAll(ctx context.Context, c types.Collection) ([]types.Entity, error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, c, `SELECT doc FROM `+t.name+` ORDER BY id`)
}

// GetByID returns the record with id. found is false when it does not exist.
func (s *Store) GetByID(ctx context.Context, c types.Collection, id string) (e types.Entity, found bool, err error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, false, err
	}

	var doc string
	err = s.db.QueryRowContext(ctx, `SELECT doc FROM `+t.name+` WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s %s: %w", c, id, err)
	}

	e, err = decode(c, doc)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// GetByPatient returns the records of c whose patientId equals patientID
func (s *Store) GetByPatient(ctx context.Context, c types.Collection, patientID string) ([]types.Entity, error) {
	if !c.HasPatientIndex() {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "collection has no by-patient index", map[string]interface{}{
			"collection": string(c),
		})
	}
	return s.GetByIndex(ctx, c, IndexByPatient, patientID)
}

// GetByIndex returns the records of c whose indexed field equals value
func (s *Store) GetByIndex(ctx context.Context, c types.Collection, index, value string) ([]types.Entity, error) {
	t, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	column, ok := t.indexes[index]
	if !ok {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "unknown index", map[string]interface{}{
			"collection": string(c),
			"index":      index,
		})
	}
	return s.query(ctx, c, fmt.Sprintf(`SELECT doc FROM %s WHERE %s = ? ORDER BY id`, t.name, column), value)
}

// ByStatus returns the records of c in status
func (s *Store) ByStatus(ctx context.Context, c types.Collection, status string) ([]types.Entity, error) {
	return s.GetByIndex(ctx, c, IndexByStatus, status)
}

func (s *Store) query(ctx context.Context, c types.Collection, query string, args ...interface{}) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c, err)
	}
	defer rows.Close()

	entities := []types.Entity{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c, err)
		}
		e, err := decode(c, doc)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func decode(c types.Collection, doc string) (types.Entity, error) {
	e, err := types.NewEntity(c.Kind())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(doc), e); err != nil {
		return nil, fmt.Errorf("failed to decode %s document: %w", c, err)
	}
	return e, nil
}

// SyncStatus returns the pending and failed queue counts
func (s *Store) SyncStatus(ctx context.Context) (types.SyncStatusReport, error) {
	return s.queue.Status(ctx)
}
