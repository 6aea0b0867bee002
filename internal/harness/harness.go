package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/ferry/internal/connectivity"
	"github.com/roach88/ferry/internal/engine"
	"github.com/roach88/ferry/internal/outbox"
	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/remote"
	"github.com/roach88/ferry/internal/store"
	"github.com/roach88/ferry/internal/testutil"
)

// Holder is the lease holder id used by scenario runs.
const Holder = "harness"

// Harness drives an Outbox through a scenario against an in-memory remote.
// It runs with a manual clock, sequential ids and jitter-free backoff, so
// the same scenario always produces the same trace.
type Harness struct {
	outbox *outbox.Outbox
	store  *store.Store
	graph  *record.Graph
	remote *remote.Memory
	clock  *testutil.ManualClock

	refs    map[string]string // ref -> local id
	names   map[string]string // local id -> ref
	colls   map[string]string // ref -> collection
	failing map[string]*failure

	consumed int // submissions already traced
}

type failure struct {
	status    int
	message   string
	remaining int // <= 0 means forever
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. An error
// means the scenario could not run at all; failed checks are reported in
// Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	specs := scenario.Collections
	if len(specs) == 0 {
		specs = record.DefaultCollections()
	}
	graph, err := record.NewGraph(specs)
	if err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}

	st, err := store.OpenContext(ctx, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:   st,
		graph:   graph,
		clock:   testutil.NewManualClock(time.Time{}),
		refs:    make(map[string]string),
		names:   make(map[string]string),
		colls:   make(map[string]string),
		failing: make(map[string]*failure),
	}
	h.remote = remote.NewMemory(remote.WithRemoteIDs(h.remoteID))
	h.remote.SetFailFunc(h.injectFailure)

	policy := engine.DefaultRetryPolicy()
	policy.Jitter = 0
	if scenario.MaxAttempts > 0 {
		policy.MaxAttempts = scenario.MaxAttempts
	}

	h.outbox, err = outbox.New(ctx, st, graph, h.remote, connectivity.NewMonitor(),
		outbox.WithClock(h.clock),
		outbox.WithIDGenerator(testutil.NewSequentialIDs()),
		outbox.WithEngineOptions(
			engine.WithHolder(Holder),
			engine.WithRetryPolicy(policy),
		),
	)
	if err != nil {
		return nil, err
	}
	defer h.outbox.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Store:  st,
		Graph:  graph,
		Remote: h.remote,
		Refs:   h.refs,
		Colls:  h.colls,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	switch {
	case step.Enqueue != nil:
		return h.enqueue(ctx, index, step.Enqueue, result)

	case step.Online != nil:
		h.outbox.SetOnline(*step.Online)
		if *step.Online {
			result.add(TraceEvent{Type: EventOnline})
		} else {
			result.add(TraceEvent{Type: EventOffline})
		}

	case step.Sync:
		report := h.outbox.SyncNow(ctx)
		if err := h.traceSubmissions(result); err != nil {
			return err
		}
		result.add(TraceEvent{Type: EventSync, Pass: summarize(report)})

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		result.add(TraceEvent{Type: EventAdvance, Value: d.String()})

	case step.Fail != nil:
		f := step.Fail
		h.failing[h.refs[f.Ref]] = &failure{status: f.Status, message: f.Message, remaining: f.Times}
		result.add(TraceEvent{
			Type:  EventFail,
			Ref:   f.Ref,
			Value: fmt.Sprintf("%d", f.Status),
		})

	case step.RetryReview != "":
		ref := step.RetryReview
		if err := h.outbox.RetryReview(ctx, h.colls[ref], h.refs[ref]); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: retry_review %s: %v", index, ref, err))
		}
		result.add(TraceEvent{Type: EventRequeue, Ref: ref})

	case step.ExpectPending != nil:
		n, err := h.outbox.PendingCount(ctx)
		if err != nil {
			return err
		}
		if n != *step.ExpectPending {
			result.AddError(fmt.Sprintf("steps[%d]: expected %d pending, got %d", index, *step.ExpectPending, n))
		}
	}
	return nil
}

func (h *Harness) enqueue(ctx context.Context, index int, e *EnqueueStep, result *Result) error {
	var payload json.RawMessage
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = raw
	}

	parentID := ""
	if e.Parent != "" {
		parentID = e.Parent
		if id, ok := h.refs[e.Parent]; ok {
			parentID = id
		}
	}

	// Advance first so every record gets a distinct timestamp.
	h.clock.Advance(time.Millisecond)
	id, err := h.outbox.Enqueue(ctx, e.Collection, payload, parentID)

	if e.ExpectError != "" {
		got := enqueueErrorName(err)
		if got != e.ExpectError {
			result.AddError(fmt.Sprintf("steps[%d]: expected enqueue error %s, got %v", index, e.ExpectError, err))
		}
		result.add(TraceEvent{
			Type:       EventRejected,
			Collection: e.Collection,
			Ref:        e.Ref,
			Error:      got,
		})
		return nil
	}
	if err != nil {
		result.AddError(fmt.Sprintf("steps[%d]: enqueue %s: %v", index, e.Ref, err))
		return nil
	}

	h.refs[e.Ref] = id
	h.names[id] = e.Ref
	h.colls[e.Ref] = e.Collection

	canonical, err := record.MarshalCanonical(payload)
	if err != nil {
		return err
	}
	result.add(TraceEvent{
		Type:       EventEnqueue,
		Collection: e.Collection,
		Ref:        e.Ref,
		Parent:     e.Parent,
		Payload:    canonical,
	})
	return nil
}

func enqueueErrorName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, outbox.ErrInvalidPayload):
		return ExpectInvalidPayload
	case errors.Is(err, outbox.ErrUnknownParent):
		return ExpectUnknownParent
	case errors.Is(err, store.ErrUnknownCollection):
		return ExpectUnknownCollection
	default:
		return err.Error()
	}
}

// traceSubmissions appends the submissions of the last pass. Collections of
// one level drain concurrently, so submissions are ordered by collection
// first; within a collection the engine submits sequentially.
func (h *Harness) traceSubmissions(result *Result) error {
	subs := h.remote.Submissions()[h.consumed:]
	h.consumed += len(subs)

	order := h.graph.Order()
	slices.SortStableFunc(subs, func(a, b remote.Submission) int {
		return slices.Index(order, a.Collection) - slices.Index(order, b.Collection)
	})

	for _, sub := range subs {
		canonical, err := record.MarshalCanonical(sub.Payload)
		if err != nil {
			return err
		}
		result.add(TraceEvent{
			Type:       EventSubmit,
			Collection: sub.Collection,
			Ref:        h.names[sub.IdempotencyKey],
			RemoteID:   sub.RemoteID,
			Payload:    canonical,
			Error:      sub.Err,
		})
	}
	return nil
}

// remoteID names remote rows after scenario refs.
func (h *Harness) remoteID(_ string, key string) string {
	return "srv-" + h.names[key]
}

func (h *Harness) injectFailure(collection string, _ json.RawMessage, key string) error {
	f, ok := h.failing[key]
	if !ok {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(h.failing, key)
		}
	}
	slog.Debug("injected remote failure", "collection", collection, "ref", h.names[key], "status", f.status)
	return &remote.SubmissionError{
		Collection: collection,
		Key:        h.names[key],
		StatusCode: f.status,
		Message:    f.message,
	}
}
