package harness

import (
	"encoding/json"

	"github.com/roach88/ferry/internal/engine"
)

// Trace event types.
const (
	EventEnqueue  = "enqueue"
	EventRejected = "enqueue_rejected"
	EventOnline   = "online"
	EventOffline  = "offline"
	EventSubmit   = "submit"
	EventSync     = "sync"
	EventAdvance  = "advance"
	EventFail     = "fail"
	EventRequeue  = "retry_review"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Collection string          `json:"collection,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	Parent     string          `json:"parent,omitempty"`
	RemoteID   string          `json:"remote_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	Value      string          `json:"value,omitempty"`
	Pass       *PassSummary    `json:"pass,omitempty"`
}

// PassSummary is the scheduling-independent part of an engine.Report.
type PassSummary struct {
	Skipped     string `json:"skipped,omitempty"`
	Attempted   int    `json:"attempted"`
	Synced      int    `json:"synced"`
	Failed      int    `json:"failed"`
	Deferred    int    `json:"deferred"`
	NeedsReview int    `json:"needs_review"`
}

func summarize(r engine.Report) *PassSummary {
	return &PassSummary{
		Skipped:     string(r.Skipped),
		Attempted:   r.Attempted,
		Synced:      r.Synced,
		Failed:      r.Failed,
		Deferred:    r.Deferred,
		NeedsReview: r.NeedsReview,
	}
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step check and assertion held.
	Pass bool `json:"pass"`

	// Trace lists everything that happened, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed checks. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}
