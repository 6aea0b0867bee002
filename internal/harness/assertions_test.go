package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ferry/internal/record"
	"github.com/roach88/ferry/internal/remote"
	"github.com/roach88/ferry/internal/store"
)

func submitTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventEnqueue, Ref: "lead"},
		{Seq: 2, Type: EventSubmit, Ref: "lead", Error: "status 503"},
		{Seq: 3, Type: EventSubmit, Ref: "note", RemoteID: "srv-note"},
		{Seq: 4, Type: EventSubmit, Ref: "lead", RemoteID: "srv-lead"},
		{Seq: 5, Type: EventSubmit, Ref: "visit", RemoteID: "srv-visit"},
	}
}

func TestAssertSubmitOrder(t *testing.T) {
	tests := []struct {
		name    string
		refs    []string
		wantErr string
	}{
		{"in order", []string{"lead", "visit"}, ""},
		{"failed attempt does not count", []string{"note", "lead"}, ""},
		{"out of order", []string{"lead", "note"}, "lead (seq 4) should be before note (seq 3)"},
		{"never accepted", []string{"lead", "call"}, "call never accepted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertSubmitOrder(submitTrace(), Assertion{Type: AssertSubmitOrder, Refs: tt.refs})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, AssertSubmitOrder, ae.Type)
		})
	}
}

func TestAssertSubmitCount(t *testing.T) {
	assert.NoError(t, assertSubmitCount(submitTrace(), Assertion{Type: AssertSubmitCount, Ref: "lead", Count: 2}))
	assert.NoError(t, assertSubmitCount(submitTrace(), Assertion{Type: AssertSubmitCount, Ref: "call", Count: 0}))

	err := assertSubmitCount(submitTrace(), Assertion{Type: AssertSubmitCount, Ref: "note", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 submissions of note")
	assert.Contains(t, err.Error(), "Actual: 1 submissions")
}

func TestAssertionError_ListsSubmissions(t *testing.T) {
	err := &AssertionError{
		Type:     AssertSubmitOrder,
		Expected: "x",
		Actual:   "y",
		Trace:    submitTrace(),
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: submit_order")
	assert.Contains(t, msg, "[2]  lead: status 503")
	assert.Contains(t, msg, "[3]  note: ok")
	assert.NotContains(t, msg, "[1]")
}

// newAssertionContext stores lead (synced) and note (parent lead) with the
// given remote row for note.
func newAssertionContext(t *testing.T, noteRow string) *AssertionContext {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	graph, err := record.NewGraph(record.DefaultCollections())
	require.NoError(t, err)
	require.NoError(t, st.RegisterCollections(ctx, graph.Specs()))

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lead := record.New("id-lead", record.PrimaryCollection, "", []byte(`{"name":"Acme"}`), now)
	note := record.New("id-note", record.DependentCollectionA, "id-lead", []byte(`{"text":"hi"}`), now)
	require.NoError(t, st.Add(ctx, lead.Collection, lead))
	require.NoError(t, st.Add(ctx, note.Collection, note))
	require.NoError(t, st.MarkSynced(ctx, lead.Collection, lead.ID, "srv-lead", now))

	mem := remote.NewMemory(remote.WithRemoteIDs(func(_, key string) string {
		return "srv-" + key[len("id-"):]
	}))
	_, err = mem.Create(ctx, record.DependentCollectionA, []byte(noteRow), note.ID)
	require.NoError(t, err)
	require.NoError(t, st.MarkSynced(ctx, note.Collection, note.ID, "srv-note", now))

	return &AssertionContext{
		Ctx:    ctx,
		Store:  st,
		Graph:  graph,
		Remote: mem,
		Refs:   map[string]string{"lead": "id-lead", "note": "id-note"},
		Colls:  map[string]string{"lead": lead.Collection, "note": note.Collection},
	}
}

func TestAssertParentResolved(t *testing.T) {
	actx := newAssertionContext(t, `{"leadId":"srv-lead","text":"hi"}`)
	assert.NoError(t, assertParentResolved(actx, Assertion{Type: AssertParentResolved, Ref: "note"}))

	err := assertParentResolved(actx, Assertion{Type: AssertParentResolved, Ref: "lead"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lead has no parent")
}

func TestAssertParentResolved_WrongID(t *testing.T) {
	actx := newAssertionContext(t, `{"leadId":"id-lead","text":"hi"}`)

	err := assertParentResolved(actx, Assertion{Type: AssertParentResolved, Ref: "note"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `note.leadId = "srv-lead"`)
	assert.Contains(t, err.Error(), `Actual: "id-lead"`)
}

func TestAssertRecordState(t *testing.T) {
	actx := newAssertionContext(t, `{"leadId":"srv-lead","text":"hi"}`)

	assert.NoError(t, assertRecordState(actx, Assertion{Type: AssertSynced, Ref: "lead"}))
	assert.NoError(t, assertAttempts(actx, Assertion{Type: AssertAttempts, Ref: "lead", Count: 0}))
	assert.NoError(t, assertPending(actx, Assertion{Type: AssertPending, Count: 0}))

	err := assertRecordState(actx, Assertion{Type: AssertNeedsReview, Ref: "lead"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: lead needs review")
	assert.Contains(t, err.Error(), "Actual: synced as srv-lead")
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	actx := newAssertionContext(t, `{"leadId":"srv-lead","text":"hi"}`)
	result := &Result{Trace: submitTrace()}

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertPending, Count: 0},
		{Type: AssertPending, Count: 3},
		{Type: AssertUnsynced, Ref: "note"},
		{Type: "bogus"},
	}, actx)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "assertion 1 (pending)")
	assert.Contains(t, errs[1], "assertion 2 (unsynced)")
	assert.Contains(t, errs[2], "unknown assertion type: bogus")
}
