package syncqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/config"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/database"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	db, err := database.Open(context.Background(), config.StorageConfig{
		DataDir:  t.TempDir(),
		FileName: "queue.db",
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logger.Discard(), opts...)
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func deletion(id string) types.Payload {
	return types.NewDeletionPayload(types.EntityPatient, id)
}

func TestEnqueue_NewEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, WithClock(fixedClock(1700000000000)))

	appt := &types.Appointment{PatientID: "P1", Status: types.AppointmentStatusScheduled}
	appt.ID = "A1"
	entry, err := q.Enqueue(ctx, types.SyncOperationUpdate, types.NewPayload(appt))
	require.NoError(t, err)

	assert.Regexp(t, `^sync_1700000000000_[0-9a-f]{7}$`, entry.ID)
	assert.Equal(t, types.SyncStatusPending, entry.Status)
	assert.Equal(t, 0, entry.Retries)
	assert.Equal(t, int64(1700000000000), entry.Timestamp)

	stored, err := q.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncOperationUpdate, stored.Operation)
	assert.Equal(t, types.EntityAppointment, stored.Entity)
	require.NotNil(t, stored.Data.Appointment)
	assert.Equal(t, "P1", stored.Data.Appointment.PatientID)
	assert.Equal(t, "A1", stored.Data.ID())
}

func TestEnqueue_StrictlyIncreasingTimestamps(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, WithClock(fixedClock(1000)))

	var ts []int64
	for _, id := range []string{"P1", "P2", "P3"} {
		entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion(id))
		require.NoError(t, err)
		ts = append(ts, entry.Timestamp)
	}

	assert.Equal(t, []int64{1000, 1001, 1002}, ts)
}

func TestPendingIDs_FIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	var want []string
	for _, id := range []string{"P1", "P2", "P3"} {
		entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion(id))
		require.NoError(t, err)
		want = append(want, entry.ID)
	}

	ids, err := q.PendingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, ids)

	require.NoError(t, q.MarkProcessing(ctx, want[1]))
	ids, err = q.PendingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{want[0], want[2]}, ids)
}

func TestMarkProcessing_OnlyPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)

	require.NoError(t, q.MarkProcessing(ctx, entry.ID))
	assert.ErrorIs(t, q.MarkProcessing(ctx, entry.ID), ErrNotPending)
	assert.ErrorIs(t, q.MarkProcessing(ctx, "sync_missing"), ErrNotPending)
}

func TestMarkPendingWithRetry_RetryBound(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		require.NoError(t, q.MarkProcessing(ctx, entry.ID))
		updated, err := q.MarkPendingWithRetry(ctx, entry.ID, errors.New("remote down"))
		require.NoError(t, err)
		assert.Equal(t, attempt, updated.Retries)
		assert.Equal(t, types.SyncStatusPending, updated.Status)
	}

	require.NoError(t, q.MarkProcessing(ctx, entry.ID))
	updated, err := q.MarkPendingWithRetry(ctx, entry.ID, errors.New("remote down"))
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Retries)
	assert.Equal(t, types.SyncStatusFailed, updated.Status)
	assert.Equal(t, "remote down", updated.LastError)

	ids, err := q.PendingIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	report, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusReport{Pending: 0, Failed: 1}, report)
}

func TestMarkPendingWithRetry_CustomBound(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, WithMaxRetries(0))

	entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)

	updated, err := q.MarkPendingWithRetry(ctx, entry.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusFailed, updated.Status)
}

func TestMarkPendingWithRetry_NotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.MarkPendingWithRetry(context.Background(), "sync_missing", nil)
	assert.True(t, types.IsNotFound(err))
}

func TestGet_NotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Get(context.Background(), "sync_missing")
	assert.True(t, types.IsNotFound(err))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, entry.ID))

	n, err := q.CountByStatus(ctx, types.SyncStatusPending)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListAndRetryFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, WithMaxRetries(0))

	first, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P2"))
	require.NoError(t, err)

	_, err = q.MarkPendingWithRetry(ctx, first.ID, errors.New("rejected"))
	require.NoError(t, err)

	failed, err := q.List(ctx, types.SyncStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, first.ID, failed[0].ID)

	all, err := q.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{first.ID, second.ID}, []string{all[0].ID, all[1].ID})

	n, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	retried, err := q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusPending, retried.Status)
	assert.Equal(t, 1, retried.Retries)
}

func TestResetProcessing(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing(ctx, entry.ID))

	n, err := q.ResetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := q.PendingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{entry.ID}, ids)
}

func TestEnqueue_InsertFailureRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	q := New(database.Wrap(sqlDB, logger.Discard()), logger.Discard())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(timestamp\), 0\) FROM sync_queue`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO sync_queue`).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = q.Enqueue(context.Background(), types.SyncOperationDelete, deletion("P1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert sync entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	entry, err := q.Enqueue(ctx, types.SyncOperationDelete, deletion("P1"))
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing(ctx, entry.ID))
	require.NoError(t, q.Release(ctx, entry.ID))

	got, err := q.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusPending, got.Status)
	assert.Equal(t, 0, got.Retries)
}
