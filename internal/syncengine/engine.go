// Package syncengine replays queued offline mutations against the remote
// sync target once connectivity returns.
package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sugreev38/v0-hospital-emr-software/internal/syncqueue"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

// ConnectivityChecker reports whether the remote target is reachable
type ConnectivityChecker interface {
	IsOnline() bool
}

// ReconnectNotifier calls fn on every offline to online transition
type ReconnectNotifier interface {
	OnReconnect(fn func()) (unsubscribe func())
}

// Report summarizes one drain pass
type Report struct {
	// Offline is set when the pass was skipped because the monitor
	// reported offline.
	Offline bool `json:"offline"`
	// Interrupted is set when connectivity dropped during the pass.
	Interrupted bool `json:"interrupted"`
	Attempted   int  `json:"attempted"`
	Succeeded   int  `json:"succeeded"`
	Failed      int  `json:"failed"`
	// Demoted counts entries that exhausted their retries during this pass.
	Demoted int `json:"demoted"`
	Skipped int `json:"skipped"`
}

// Engine drains the sync queue one entry at a time
type Engine struct {
	queue   *syncqueue.Queue
	remote  Remote
	online  ConnectivityChecker
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	tracing *monitoring.TracingManager

	// life bounds every pass; requests only bound how long callers wait.
	life context.Context

	mu      sync.Mutex
	running bool
	waiters []chan passResult
	wg      sync.WaitGroup
}

type passResult struct {
	report Report
	err    error
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records drains and replays into m
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithContext bounds every pass by ctx. Cancelling it stops the pass in
// flight and hands the entry being replayed back to the queue.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) { e.life = ctx }
}

// WithTracing overrides the tracing manager
func WithTracing(t *monitoring.TracingManager) Option {
	return func(e *Engine) { e.tracing = t }
}

// New creates an engine
func New(queue *syncqueue.Queue, remote Remote, online ConnectivityChecker, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		queue:  queue,
		remote: remote,
		online: online,
		logger: log,
		life:   context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracing == nil {
		e.tracing = monitoring.NewTracingManager("emr-sync-engine")
	}
	return e
}

// Drain replays every pending entry in enqueue order. At most one pass
// runs at a time; a request made while a pass is running is served by a
// fresh pass started right after it, so entries queued meanwhile are not
// missed. Passes run on the engine's context: cancelling ctx only stops the
// caller from waiting. Remote failures are recorded on the entry and never
// returned; the error is only set when the queue itself cannot be read or
// updated.
func (e *Engine) Drain(ctx context.Context) (Report, error) {
	select {
	case res := <-e.request():
		return res.report, res.err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// request registers a waiter for the next pass to start and makes sure a
// runner is active
func (e *Engine) request() <-chan passResult {
	ch := make(chan passResult, 1)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.waiters = append(e.waiters, ch)
	if e.running {
		e.logger.WithComponent("syncengine").Debug("Drain requested during a pass, queued another")
		return ch
	}
	e.running = true
	e.wg.Add(1)
	go e.run()
	return ch
}

// run executes passes until no request is left waiting
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		waiters := e.waiters
		e.waiters = nil
		if len(waiters) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		report, err := e.drain(e.life)
		for _, w := range waiters {
			w <- passResult{report: report, err: err}
		}
	}
}

func (e *Engine) drain(ctx context.Context) (report Report, err error) {
	log := e.logger.WithComponent("syncengine")

	if !e.online.IsOnline() {
		e.metrics.RecordDrain("offline", 0)
		log.Debug("Skipping drain while offline")
		return Report{Offline: true}, nil
	}

	start := time.Now()
	ctx, span := e.tracing.StartDrainSpan(ctx)
	defer func() {
		result := "completed"
		if err != nil {
			result = "error"
			e.tracing.RecordError(span, err)
		}
		span.End()
		e.metrics.RecordDrain(result, time.Since(start))
		e.refreshDepth(ctx)
	}()

	ids, err := e.queue.PendingIDs(ctx)
	if err != nil {
		return report, err
	}
	if len(ids) == 0 {
		return report, nil
	}

	log.WithField("pending", len(ids)).Info("Draining sync queue")

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !e.online.IsOnline() {
			report.Interrupted = true
			log.Warn("Connectivity lost, stopping drain")
			break
		}

		if err := e.replay(ctx, id, &report); err != nil {
			return report, err
		}
	}

	log.WithFields(map[string]interface{}{
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"demoted":   report.Demoted,
		"skipped":   report.Skipped,
	}).Info("Drain pass finished")

	return report, nil
}

// replay processes one entry. Only storage errors are returned.
func (e *Engine) replay(ctx context.Context, id string, report *Report) error {
	if err := e.queue.MarkProcessing(ctx, id); err != nil {
		if errors.Is(err, syncqueue.ErrNotPending) {
			report.Skipped++
			return nil
		}
		return err
	}

	entry, err := e.queue.Get(ctx, id)
	if err != nil {
		if types.IsNotFound(err) {
			report.Skipped++
			return nil
		}
		return err
	}

	report.Attempted++
	op, entity := string(entry.Operation), string(entry.Entity)

	replayCtx, span := e.tracing.StartReplaySpan(ctx, entry.ID, op, entity)
	applyErr := e.remote.ApplyMutation(replayCtx, entry.Operation, entry.Entity, entry.Data)
	if applyErr != nil {
		e.tracing.RecordError(span, applyErr)
	}
	span.End()

	if applyErr == nil {
		if err := e.queue.Remove(ctx, id); err != nil {
			return err
		}
		report.Succeeded++
		e.metrics.RecordReplay(entity, op, true)
		e.logger.SyncEvent(ctx, id, op, entity, entry.Retries, true, nil)
		return nil
	}

	// A cancelled pass is not the remote's fault; hand the entry back untouched.
	if ctx.Err() != nil {
		if err := e.queue.Release(context.WithoutCancel(ctx), id); err != nil {
			return err
		}
		return ctx.Err()
	}

	updated, err := e.queue.MarkPendingWithRetry(ctx, id, applyErr)
	if err != nil {
		return err
	}
	report.Failed++
	if updated.Status == types.SyncStatusFailed {
		report.Demoted++
		e.logger.WithComponent("syncengine").WithFields(map[string]interface{}{
			"entry_id": id,
			"retries":  updated.Retries,
		}).Error("Sync entry marked failed after exhausting retries")
	}
	e.metrics.RecordReplay(entity, op, false)
	e.logger.SyncEvent(ctx, id, op, entity, updated.Retries, false, applyErr)
	return nil
}

func (e *Engine) refreshDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	status, err := e.queue.Status(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.WithError(err).Warn("Failed to refresh sync queue metrics")
		return
	}
	e.metrics.SetQueueDepth(status)
}

// Attach requests a drain on every reconnect reported by n. Passes run on
// the engine's context; cancel it and call Wait on shutdown.
func (e *Engine) Attach(n ReconnectNotifier) (detach func()) {
	return n.OnReconnect(func() {
		done := e.request()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			res := <-done
			log := e.logger.WithComponent("syncengine")
			if res.err != nil {
				log.WithError(res.err).Error("Drain after reconnect failed")
				return
			}
			log.WithField("succeeded", res.report.Succeeded).Debug("Drain after reconnect finished")
		}()
	})
}

// Wait blocks until running passes and reconnect drains have returned
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns the pending and failed queue counts
func (e *Engine) Status(ctx context.Context) (types.SyncStatusReport, error) {
	return e.queue.Status(ctx)
}
