package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/remote"
	"github.com/roach88/ferry/internal/store"
)

// outcome is what happened to one record in a pass.
type outcome int

const (
	outcomeSynced outcome = iota + 1
	outcomeFailed
	outcomeNeedsReview
	outcomeDeferred
	outcomeSkipped // storage trouble before any attempt; left as is
)

// leaseGuard renews the sync lease before each record, so a pass that runs
// longer than the lease TTL keeps it. Once the lease is taken over every
// collection stops at its next record.
type leaseGuard struct {
	e     *Engine
	token string
	lost  atomic.Bool
}

func (g *leaseGuard) hold(ctx context.Context, collection string) bool {
	if g.lost.Load() {
		return false
	}
	_, err := g.e.store.RenewLease(ctx, g.e.leaseName, g.token, g.e.leaseTTL, g.e.clock.Now())
	switch {
	case err == nil:
		return true
	case errors.Is(err, store.ErrInvalidLeaseToken):
		if g.lost.CompareAndSwap(false, true) {
			slog.Warn("sync lease lost mid-pass; stopping", "collection", collection)
		}
		return false
	default:
		slog.Warn("renew sync lease", "collection", collection, "error", err)
		return true
	}
}

// drain walks the graph level by level. Collections in one level drain
// concurrently.
func (e *Engine) drain(ctx context.Context, lease store.Lease) Report {
	var report Report
	guard := &leaseGuard{e: e, token: lease.Token}

	for _, level := range e.graph.Levels() {
		if ctx.Err() != nil || guard.lost.Load() {
			break
		}

		results := make([]CollectionReport, len(level))
		var g errgroup.Group
		for j, name := range level {
			g.Go(func() error {
				results[j] = e.drainCollection(ctx, guard, name)
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results {
			report.add(r)
		}
	}
	report.LeaseLost = guard.lost.Load()
	return report
}

// drainCollection processes the due records of one collection, one at a time.
// A failing record never stops the others.
func (e *Engine) drainCollection(ctx context.Context, guard *leaseGuard, name string) CollectionReport {
	cr := CollectionReport{Name: name}

	spec, ok := e.graph.Spec(name)
	if !ok {
		cr.Error = "collection not declared"
		return cr
	}

	due, err := e.store.GetDue(ctx, name, e.clock.Now())
	if err != nil {
		slog.Error("read due records", "collection", name, "error", err)
		cr.Error = err.Error()
		return cr
	}

	for _, rec := range due {
		if ctx.Err() != nil || !guard.hold(ctx, name) {
			break
		}

		// The list was read at the start of the collection; the record may
		// have been cleared, synced or parked since.
		current, found, err := e.store.Get(ctx, name, rec.ID)
		if err != nil {
			slog.Error("reload record", "collection", name, "id", rec.ID, "error", err)
			continue
		}
		if !found || !current.Due(e.clock.Now()) {
			continue
		}

		switch e.syncRecord(ctx, spec, current) {
		case outcomeSynced:
			cr.Attempted++
			cr.Synced++
		case outcomeFailed:
			cr.Attempted++
			cr.Failed++
		case outcomeNeedsReview:
			cr.Attempted++
			cr.Failed++
			cr.NeedsReview++
		case outcomeDeferred:
			cr.Deferred++
		}
	}
	return cr
}

// syncRecord resolves the parent reference, submits the record and writes the
// result back to the store.
func (e *Engine) syncRecord(ctx context.Context, spec record.CollectionSpec, rec record.MutationRecord) outcome {
	payload := rec.Payload

	if rec.HasParent() {
		remoteID, found, err := e.store.LookupRemoteID(ctx, rec.ParentID)
		if err != nil {
			slog.Error("resolve parent", "collection", spec.Name, "id", rec.ID, "parent", rec.ParentID, "error", err)
			return outcomeSkipped
		}
		if !found {
			slog.Debug("parent not synced yet; deferring",
				"collection", spec.Name, "id", rec.ID, "parent", rec.ParentID)
			return outcomeDeferred
		}

		payload, err = record.SetField(rec.Payload, spec.ParentField, remoteID)
		if err != nil {
			return e.fail(ctx, rec, &SyncError{
				Code:       ErrCodePayload,
				Collection: spec.Name,
				RecordID:   rec.ID,
				Message:    "write parent id into payload",
				Err:        err,
			})
		}
	}

	res, err := e.adapter.Create(ctx, spec.Name, payload, rec.ID)
	if err != nil {
		return e.fail(ctx, rec, &SyncError{
			Code:       ErrCodeSubmit,
			Collection: spec.Name,
			RecordID:   rec.ID,
			Message:    "create",
			Err:        err,
		})
	}
	if res.RemoteID == "" {
		return e.fail(ctx, rec, &SyncError{
			Code:       ErrCodeEmptyRemoteID,
			Collection: spec.Name,
			RecordID:   rec.ID,
			Message:    "adapter returned no remote id",
		})
	}

	if err := e.store.MarkSynced(ctx, spec.Name, rec.ID, res.RemoteID, e.clock.Now()); err != nil {
		// The remote row exists; the next pass resubmits with the same
		// idempotency key and gets the same remote id back.
		slog.Error("mark synced", "collection", spec.Name, "id", rec.ID, "remote_id", res.RemoteID, "error", err)
		return outcomeSkipped
	}

	slog.Debug("record synced", "collection", spec.Name, "id", rec.ID, "remote_id", res.RemoteID)
	return outcomeSynced
}

// fail records a failed attempt and schedules the next one, or parks the
// record in needs-review when the payload is unusable or the budget is spent.
// Records the remote store refused outright get RetryPolicy.RejectedAttempts.
func (e *Engine) fail(ctx context.Context, rec record.MutationRecord, cause *SyncError) outcome {
	attempts := rec.Attempts + 1
	retryable := cause.Retryable()
	rejected := cause.Rejected()

	exhausted := e.retry.Exhausted(attempts)
	if rejected {
		exhausted = e.retry.ExhaustedRejected(attempts)
	}
	review := !retryable || exhausted

	f := store.Failure{Error: cause.Error(), NeedsReview: review}
	if !review {
		f.NextAttemptAt = e.clock.Now().Add(e.retry.Delay(attempts))
	}

	// Persist even if the pass context was cancelled mid-call.
	if err := e.store.RecordFailure(context.WithoutCancel(ctx), rec.Collection, rec.ID, f); err != nil {
		slog.Error("record failure", "collection", rec.Collection, "id", rec.ID, "error", err)
	}

	if review {
		slog.Warn("record needs review",
			"collection", rec.Collection,
			"id", rec.ID,
			"attempts", attempts,
			"status", remote.StatusCode(cause),
			"rejected", rejected,
			"retryable", retryable,
			"error", cause,
		)
		return outcomeNeedsReview
	}

	slog.Warn("record submission failed",
		"collection", rec.Collection,
		"id", rec.ID,
		"attempts", attempts,
		"status", remote.StatusCode(cause),
		"next_attempt_at", f.NextAttemptAt,
		"error", cause,
	)
	return outcomeFailed
}
