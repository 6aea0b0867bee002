package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/remote"
	"github.com/roach88/ferry/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSubmissions:\n")
		for _, event := range e.Trace {
			if event.Type != EventSubmit {
				continue
			}
			status := "ok"
			if event.Error != "" {
				status = event.Error
			}
			fmt.Fprintf(&buf, "  [%d] %s %s: %s\n", event.Seq, event.Collection, event.Ref, status)
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions need beyond the trace.
type AssertionContext struct {
	Ctx    context.Context
	Store  *store.Store
	Graph  *record.Graph
	Remote *remote.Memory

	Refs  map[string]string // ref -> local id
	Colls map[string]string // ref -> collection
}

func (a *AssertionContext) get(ref string) (record.MutationRecord, error) {
	rec, found, err := a.Store.Get(a.Ctx, a.Colls[ref], a.Refs[ref])
	if err != nil {
		return record.MutationRecord{}, err
	}
	if !found {
		return record.MutationRecord{}, fmt.Errorf("record %s not in store", ref)
	}
	return rec, nil
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertPending:
			err = assertPending(actx, assertion)
		case AssertSynced, AssertUnsynced, AssertNeedsReview:
			err = assertRecordState(actx, assertion)
		case AssertAttempts:
			err = assertAttempts(actx, assertion)
		case AssertSubmitOrder:
			err = assertSubmitOrder(result.Trace, assertion)
		case AssertSubmitCount:
			err = assertSubmitCount(result.Trace, assertion)
		case AssertParentResolved:
			err = assertParentResolved(actx, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, assertion.Type, err))
		}
	}
	return errs
}

func assertPending(actx *AssertionContext, a Assertion) error {
	total := 0
	for _, name := range actx.Graph.Order() {
		n, err := actx.Store.CountUnsynced(actx.Ctx, name)
		if err != nil {
			return err
		}
		total += n
	}
	if total != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d pending records", a.Count),
			Actual:   fmt.Sprintf("%d pending records", total),
		}
	}
	return nil
}

func describe(rec record.MutationRecord) string {
	switch {
	case rec.Synced:
		return "synced as " + rec.RemoteID
	case rec.NeedsReview:
		return fmt.Sprintf("needs review after %d attempts: %s", rec.Attempts, rec.LastError)
	case rec.Attempts > 0:
		return fmt.Sprintf("unsynced after %d attempts: %s", rec.Attempts, rec.LastError)
	default:
		return "unsynced, never attempted"
	}
}

func assertRecordState(actx *AssertionContext, a Assertion) error {
	rec, err := actx.get(a.Ref)
	if err != nil {
		return err
	}

	var ok bool
	switch a.Type {
	case AssertSynced:
		ok = rec.Synced
	case AssertUnsynced:
		ok = !rec.Synced && !rec.NeedsReview
	case AssertNeedsReview:
		ok = rec.NeedsReview
	}
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %s", a.Ref, strings.ReplaceAll(a.Type, "_", " ")),
			Actual:   describe(rec),
		}
	}
	return nil
}

func assertAttempts(actx *AssertionContext, a Assertion) error {
	rec, err := actx.get(a.Ref)
	if err != nil {
		return err
	}
	if rec.Attempts != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s failed %d times", a.Ref, a.Count),
			Actual:   describe(rec),
		}
	}
	return nil
}

// assertSubmitOrder checks that each ref's first accepted submission comes
// before the next ref's.
func assertSubmitOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int64)
	for _, event := range trace {
		if event.Type != EventSubmit || event.Error != "" {
			continue
		}
		if _, seen := positions[event.Ref]; !seen {
			positions[event.Ref] = event.Seq
		}
	}

	for _, ref := range a.Refs {
		if _, ok := positions[ref]; !ok {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("accepted submissions of %v", a.Refs),
				Actual:   fmt.Sprintf("%s never accepted", ref),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Refs); i++ {
		prev, curr := a.Refs[i-1], a.Refs[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("submissions in order: %v", a.Refs),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertSubmitCount counts every submission of a ref, failed ones included.
func assertSubmitCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventSubmit && event.Ref == a.Ref {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d submissions of %s", a.Count, a.Ref),
			Actual:   fmt.Sprintf("%d submissions", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertParentResolved checks that the remote row of a dependent carries its
// parent's remote id in the collection's parent field.
func assertParentResolved(actx *AssertionContext, a Assertion) error {
	rec, err := actx.get(a.Ref)
	if err != nil {
		return err
	}
	if !rec.HasParent() {
		return fmt.Errorf("%s has no parent", a.Ref)
	}
	if !rec.Synced {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s synced with its parent id", a.Ref),
			Actual:   describe(rec),
		}
	}

	spec, _ := actx.Graph.Spec(rec.Collection)
	parentRemoteID, found, err := actx.Store.LookupRemoteID(actx.Ctx, rec.ParentID)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("parent of %s synced", a.Ref),
			Actual:   "parent has no remote id",
		}
	}

	row, ok := actx.Remote.Row(rec.RemoteID)
	if !ok {
		return fmt.Errorf("remote row %s missing", rec.RemoteID)
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return fmt.Errorf("remote row %s: %w", rec.RemoteID, err)
	}

	if got, _ := fields[spec.ParentField].(string); got != parentRemoteID {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s = %q", a.Ref, spec.ParentField, parentRemoteID),
			Actual:   fmt.Sprintf("%q", got),
		}
	}
	return nil
}
