package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/ferry/internal/connectivity"
	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/remote"
	"github.com/roach88/ferry/internal/store"
)

// Defaults for engine options.
const (
	DefaultLeaseName = "sync"
	DefaultLeaseTTL  = 2 * time.Minute
)

// Settings keys written after every pass.
const (
	SettingLastSyncAt     = "last_sync_at"
	SettingLastPassReport = "last_pass_report"
)

// Engine is the sync orchestrator.
//
// Thread-safety model:
//   - SyncNow(): safe from any goroutine; concurrent calls collapse to one pass
//   - Trigger(): safe from any goroutine, never blocks
//   - Run(): must be called from exactly one goroutine
type Engine struct {
	store   *store.Store
	graph   *record.Graph
	adapter remote.Adapter
	monitor *connectivity.Monitor
	clock   Clock
	waker   connectivity.Waker

	holder    string
	leaseName string
	leaseTTL  time.Duration
	retry     RetryPolicy
	retention time.Duration

	inFlight atomic.Bool
	trigger  *triggerSignal
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithHolder sets the lease holder id. Default: a fresh UUIDv7 per engine.
func WithHolder(holder string) EngineOption {
	return func(e *Engine) {
		e.holder = holder
	}
}

// WithLease sets the lease name and time-to-live.
//
// The TTL must comfortably exceed the time one level of collections takes to
// drain; the lease is renewed between levels.
func WithLease(name string, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.leaseName = name
		e.leaseTTL = ttl
	}
}

// WithRetryPolicy sets backoff and attempt limits.
func WithRetryPolicy(p RetryPolicy) EngineOption {
	return func(e *Engine) {
		e.retry = p
	}
}

// WithRetention prunes synced records older than d after every pass.
// Zero disables pruning.
func WithRetention(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.retention = d
	}
}

// WithWaker registers a background wake-up source for Run.
func WithWaker(w connectivity.Waker) EngineOption {
	return func(e *Engine) {
		e.waker = w
	}
}

// New creates an Engine draining the collections of graph from s into adapter.
func New(
	s *store.Store,
	graph *record.Graph,
	adapter remote.Adapter,
	monitor *connectivity.Monitor,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:     s,
		graph:     graph,
		adapter:   adapter,
		monitor:   monitor,
		clock:     SystemClock{},
		leaseName: DefaultLeaseName,
		leaseTTL:  DefaultLeaseTTL,
		retry:     DefaultRetryPolicy(),
		trigger:   newTriggerSignal(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.holder == "" {
		e.holder = record.UUIDv7Generator{}.NewID()
	}
	return e
}

// Holder returns the lease holder id of this engine.
func (e *Engine) Holder() string {
	return e.holder
}

// Draining reports whether a pass is in flight in this process.
func (e *Engine) Draining() bool {
	return e.inFlight.Load()
}

// Trigger requests a pass from the Run loop. Never blocks; repeated calls
// before the loop wakes collapse into one pass. While Offline the pass is
// skipped, so Trigger is safe to call at any time.
func (e *Engine) Trigger() {
	e.trigger.Fire()
}

// Run drives passes until ctx is cancelled or Stop is called: once at
// startup, on every Offline->Online edge, on every background wake, and on
// every Trigger.
//
// Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("sync engine starting", "holder", e.holder)

	unsubscribe := e.monitor.OnTransition(func(online bool) {
		if online {
			e.Trigger()
		}
	})
	defer unsubscribe()

	connectivity.RegisterWake(ctx, e.waker, e.Trigger)

	e.Trigger()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync engine stopping: context cancelled")
			return ctx.Err()

		case _, ok := <-e.trigger.Wait():
			if !ok {
				slog.Info("sync engine stopping: stopped")
				return nil
			}
			report := e.SyncNow(ctx)
			if report.Skipped != "" {
				slog.Debug("sync pass skipped", "reason", report.Skipped)
			}
		}
	}
}

// Stop makes Run return. Further Trigger calls are ignored.
func (e *Engine) Stop() {
	e.trigger.Close()
}

// SyncNow runs one pass synchronously and reports what it did.
// It never fails; a pass that cannot start says why in Report.Skipped.
func (e *Engine) SyncNow(ctx context.Context) Report {
	if !e.monitor.IsOnline() {
		return Report{Skipped: SkipOffline}
	}

	if !e.inFlight.CompareAndSwap(false, true) {
		return Report{Skipped: SkipInFlight}
	}
	defer e.inFlight.Store(false)

	started := e.clock.Now()
	lease, err := e.store.AcquireLease(ctx, e.leaseName, e.holder, e.leaseTTL, started)
	if errors.Is(err, store.ErrLeaseHeld) {
		slog.Info("sync pass skipped: lease held elsewhere", "error", err)
		return Report{Skipped: SkipLeaseHeld}
	}
	if err != nil {
		slog.Error("sync pass skipped: acquire lease", "error", err)
		return Report{Skipped: SkipStorage}
	}

	// Release even when ctx is already cancelled.
	releaseCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := e.store.ReleaseLease(releaseCtx, e.leaseName, lease.Token); err != nil {
			slog.Warn("release sync lease", "error", err)
		}
	}()

	slog.Info("sync pass starting", "holder", e.holder)
	report := e.drain(ctx, lease)
	report.StartedAt = started
	report.FinishedAt = e.clock.Now()

	e.prune(releaseCtx, &report)
	e.persistReport(releaseCtx, report)

	slog.Info("sync pass finished",
		"attempted", report.Attempted,
		"synced", report.Synced,
		"failed", report.Failed,
		"deferred", report.Deferred,
		"needs_review", report.NeedsReview,
		"pruned", report.Pruned,
	)
	return report
}

func (e *Engine) prune(ctx context.Context, report *Report) {
	if e.retention <= 0 {
		return
	}
	cutoff := e.clock.Now().Add(-e.retention)
	n, err := e.store.PruneSynced(ctx, cutoff)
	if err != nil {
		slog.Warn("prune synced records", "error", err)
		return
	}
	report.Pruned = n
	if n > 0 {
		slog.Info("pruned synced records", "count", n, "cutoff", cutoff)
	}
}

func (e *Engine) persistReport(ctx context.Context, report Report) {
	if err := e.store.SetSetting(ctx, SettingLastSyncAt, report.FinishedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		slog.Warn("persist last sync time", "error", err)
	}
	b, err := json.Marshal(report)
	if err != nil {
		slog.Warn("encode pass report", "error", err)
		return
	}
	if err := e.store.SetSetting(ctx, SettingLastPassReport, string(b)); err != nil {
		slog.Warn("persist pass report", "error", err)
	}
}
