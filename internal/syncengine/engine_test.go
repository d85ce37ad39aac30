package syncengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sugreev38/v0-hospital-emr-software/internal/connectivity"
	"github.com/sugreev38/v0-hospital-emr-software/internal/store"
	"github.com/sugreev38/v0-hospital-emr-software/internal/syncqueue"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/config"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/database"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// MockRemote is a mock implementation of Remote
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) ApplyMutation(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
	args := m.Called(ctx, op, entity, payload)
	return args.Error(0)
}

type call struct {
	op     types.SyncOperation
	entity types.EntityKind
	id     string
}

// recorder is a Remote that records calls and fails ids listed in failures
type recorder struct {
	mu       sync.Mutex
	calls    []call
	failures map[string]int
}

func (r *recorder) ApplyMutation(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: op, entity: entity, id: payload.ID()})
	if r.failures[payload.ID()] > 0 {
		r.failures[payload.ID()]--
		return errors.New("remote unavailable")
	}
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, c := range r.calls {
		ids = append(ids, c.id)
	}
	return ids
}

type fixture struct {
	db      *database.DB
	queue   *syncqueue.Queue
	monitor *connectivity.Monitor
	store   *store.Store
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	log := logger.Discard()
	db, err := database.Open(context.Background(), config.StorageConfig{
		DataDir:  t.TempDir(),
		FileName: "engine.db",
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := syncqueue.New(db, log)
	m := connectivity.New(online, log)
	return &fixture{db: db, queue: q, monitor: m, store: store.New(db, q, m, log)}
}

func (f *fixture) engine(remote Remote, opts ...Option) *Engine {
	return New(f.queue, remote, f.monitor, logger.Discard(), opts...)
}

func (f *fixture) enqueueDeletes(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.queue.Enqueue(context.Background(), types.SyncOperationDelete, types.NewDeletionPayload(types.EntityPatient, id))
		require.NoError(t, err)
	}
}

func TestDrain_OfflineIsNoop(t *testing.T) {
	f := newFixture(t, false)
	f.enqueueDeletes(t, "P1")

	remote := &MockRemote{}
	report, err := f.engine(remote).Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Offline)
	remote.AssertNotCalled(t, "ApplyMutation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	status, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
}

func TestDrain_ReplaysInEnqueueOrder(t *testing.T) {
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P3", "P1", "P2")

	remote := &recorder{}
	report, err := f.engine(remote).Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"P3", "P1", "P2"}, remote.ids())
	assert.Equal(t, Report{Attempted: 3, Succeeded: 3}, report)

	status, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusReport{}, status)
}

func TestDrain_FailureDoesNotBlockLaterEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1", "P2")

	remote := &recorder{failures: map[string]int{"P1": 1}}
	report, err := f.engine(remote).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)

	entries, err := f.queue.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "P1", entries[0].Data.ID())
	assert.Equal(t, 1, entries[0].Retries)
	assert.Equal(t, types.SyncStatusPending, entries[0].Status)
	assert.Equal(t, "remote unavailable", entries[0].LastError)
}

func TestDrain_FourFailuresMarkFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	remote := &MockRemote{}
	remote.On("ApplyMutation", mock.Anything, types.SyncOperationDelete, types.EntityPatient, mock.Anything).
		Return(errors.New("503 from remote")).Times(4)

	e := f.engine(remote)
	for i := 0; i < 4; i++ {
		_, err := e.Drain(ctx)
		require.NoError(t, err)
	}

	entries, err := f.queue.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.SyncStatusFailed, entries[0].Status)
	assert.Equal(t, 4, entries[0].Retries)

	// failed entries are left alone by later drains
	report, err := e.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	remote.AssertNumberOfCalls(t, "ApplyMutation", 4)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusReport{Failed: 1}, status)
}

func TestDrain_SucceedsOnSecondAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	remote := &recorder{failures: map[string]int{"P1": 1}}
	e := f.engine(remote)

	_, err := e.Drain(ctx)
	require.NoError(t, err)
	report, err := e.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	entries, err := f.queue.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDrain_RetryFailedGivesOneMoreAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	remote := &recorder{failures: map[string]int{"P1": 4}}
	e := f.engine(remote)
	for i := 0; i < 4; i++ {
		_, err := e.Drain(ctx)
		require.NoError(t, err)
	}

	n, err := f.queue.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	report, err := e.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Len(t, remote.ids(), 5)
}

func TestDrain_OnePassAtATime(t *testing.T) {
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls, inFlight, maxInFlight atomic.Int32
	remote := RemoteFunc(func(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	})
	e := f.engine(remote)

	var wg sync.WaitGroup
	reports := make([]Report, 3)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Drain(context.Background())
			assert.NoError(t, err)
			reports[i] = r
		}(i)
		if i == 0 {
			<-started
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	e.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 1, reports[0].Succeeded)
	assert.Zero(t, reports[1].Attempted, "later requests get a fresh pass")
	assert.Zero(t, reports[2].Attempted)
}

func TestDrain_ReconnectDuringPassReplaysNewEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	started := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	remote := &recorder{}
	blocking := RemoteFunc(func(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
		first.Do(func() {
			close(started)
			<-release
		})
		return remote.ApplyMutation(ctx, op, entity, payload)
	})
	e := f.engine(blocking)
	defer e.Attach(f.monitor)()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_, err := e.Drain(ctx)
		assert.NoError(t, err)
	}()
	<-started

	f.monitor.SetOnline(false)
	require.NoError(t, f.store.DeletePatient(ctx, "P2"))
	f.monitor.SetOnline(true)

	close(release)
	<-drained
	e.Wait()

	assert.Equal(t, []string{"P1", "P2"}, remote.ids())
	status, err := f.queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusReport{}, status)
}

func TestDrain_CallerCancelDoesNotStopPass(t *testing.T) {
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	started := make(chan struct{})
	release := make(chan struct{})
	remote := RemoteFunc(func(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
		close(started)
		<-release
		return ctx.Err()
	})
	e := f.engine(remote)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := e.Drain(ctx)
		errs <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(release)
	e.Wait()

	status, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusReport{}, status)
}

func TestDrain_StopsWhenConnectivityDrops(t *testing.T) {
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1", "P2")

	remote := RemoteFunc(func(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
		f.monitor.SetOnline(false)
		return nil
	})

	report, err := f.engine(remote).Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 1, report.Succeeded)

	status, err := f.queue.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
}

func TestDrain_CancelledReplayKeepsRetries(t *testing.T) {
	f := newFixture(t, true)
	f.enqueueDeletes(t, "P1")

	ctx, cancel := context.WithCancel(context.Background())
	remote := RemoteFunc(func(ctx context.Context, op types.SyncOperation, entity types.EntityKind, payload types.Payload) error {
		cancel()
		return ctx.Err()
	})

	_, err := f.engine(remote, WithContext(ctx)).Drain(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := f.queue.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.SyncStatusPending, entries[0].Status)
	assert.Zero(t, entries[0].Retries)
}

func TestAttach_ReconnectDrainsOfflineWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.monitor.SetOnline(false)

	_, err := f.store.SaveAppointment(ctx, &types.Appointment{PatientID: "P1", Status: types.AppointmentStatusScheduled})
	require.NoError(t, err)

	entries, err := f.queue.List(ctx, types.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.SyncOperationUpdate, entries[0].Operation)
	assert.Equal(t, types.EntityAppointment, entries[0].Entity)
	assert.Equal(t, 0, entries[0].Retries)

	remote := &recorder{}
	metrics := monitoring.NewMetricsCollector("emr-sync-test")
	e := f.engine(remote, WithMetrics(metrics))
	detach := e.Attach(f.monitor)
	defer detach()

	f.monitor.SetOnline(true)
	e.Wait()

	remote.mu.Lock()
	calls := append([]call(nil), remote.calls...)
	remote.mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, types.SyncOperationUpdate, calls[0].op)
	assert.Equal(t, types.EntityAppointment, calls[0].entity)

	status, err := f.store.SyncStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SyncStatusReport{}, status)
}

func TestAttach_OfflineDeletesReplayInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := f.store.SavePatient(ctx, &types.Patient{Name: "p", Status: types.PatientStatusActive})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	f.monitor.SetOnline(false)
	for _, id := range ids {
		require.NoError(t, f.store.DeletePatient(ctx, id))
	}

	entries, err := f.queue.List(ctx, types.SyncStatusPending)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Less(t, entries[0].Timestamp, entries[1].Timestamp)
	assert.Less(t, entries[1].Timestamp, entries[2].Timestamp)

	remote := &recorder{}
	e := f.engine(remote)
	defer e.Attach(f.monitor)()

	f.monitor.SetOnline(true)
	e.Wait()

	assert.Equal(t, ids, remote.ids())
}

func TestAttach_Detach(t *testing.T) {
	f := newFixture(t, false)
	f.enqueueDeletes(t, "P1")

	remote := &MockRemote{}
	e := f.engine(remote)
	detach := e.Attach(f.monitor)
	detach()

	f.monitor.SetOnline(true)
	e.Wait()
	remote.AssertNotCalled(t, "ApplyMutation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
