package engine

import "time"

// SkipReason says why SyncNow did not run a pass.
type SkipReason string

const (
	// SkipOffline: the connectivity monitor reports Offline.
	SkipOffline SkipReason = "offline"

	// SkipInFlight: a pass is already draining in this process.
	SkipInFlight SkipReason = "in-flight"

	// SkipLeaseHeld: another process holds the sync lease.
	SkipLeaseHeld SkipReason = "lease-held"

	// SkipStorage: the lease could not be read or written.
	SkipStorage SkipReason = "storage"

	// SkipClosed: the outbox was closed.
	SkipClosed SkipReason = "closed"
)

// Report summarizes one pass.
type Report struct {
	Skipped     SkipReason         `json:"skipped,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
	Collections []CollectionReport `json:"collections,omitempty"`

	Attempted   int   `json:"attempted"`
	Synced      int   `json:"synced"`
	Failed      int   `json:"failed"`
	Deferred    int   `json:"deferred"`
	NeedsReview int   `json:"needs_review"`
	Pruned      int64 `json:"pruned"`

	// LeaseLost is set when the lease was taken over mid-pass; the remaining
	// levels were left for the next pass.
	LeaseLost bool `json:"lease_lost,omitempty"`
}

// Ran reports whether the pass actually started.
func (r Report) Ran() bool {
	return r.Skipped == ""
}

// CollectionReport summarizes one collection within a pass.
type CollectionReport struct {
	Name        string `json:"name"`
	Attempted   int    `json:"attempted"`
	Synced      int    `json:"synced"`
	Failed      int    `json:"failed"`
	Deferred    int    `json:"deferred"`
	NeedsReview int    `json:"needs_review"`
	Error       string `json:"error,omitempty"`
}

func (r *Report) add(c CollectionReport) {
	r.Collections = append(r.Collections, c)
	r.Attempted += c.Attempted
	r.Synced += c.Synced
	r.Failed += c.Failed
	r.Deferred += c.Deferred
	r.NeedsReview += c.NeedsReview
}
