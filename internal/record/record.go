package record

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Default collection names used by the field client.
const (
	PrimaryCollection    = "primaryEntityMutations"
	DependentCollectionA = "dependentMutations_A"
	DependentCollectionB = "dependentMutations_B"

	// DefaultParentField is the payload field that receives the parent's
	// remote id when a collection does not name one.
	DefaultParentField = "parentId"
)

// MutationRecord is a single pending write awaiting submission.
//
// Synced is monotonic: it starts false and flips to true exactly once.
// Only a full reset removes a record.
type MutationRecord struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	ParentID   string          `json:"parent_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"` // epoch milliseconds
	Synced     bool            `json:"synced"`

	// Retry bookkeeping maintained by the sync engine.
	Attempts      int    `json:"attempts"`
	NextAttemptAt int64  `json:"next_attempt_at"` // epoch milliseconds, 0 = due now
	LastError     string `json:"last_error,omitempty"`
	NeedsReview   bool   `json:"needs_review"`
	SyncedAt      int64  `json:"synced_at,omitempty"`
	RemoteID      string `json:"remote_id,omitempty"`
}

// Due reports whether the record may be attempted at now.
func (r MutationRecord) Due(now time.Time) bool {
	return !r.Synced && !r.NeedsReview && r.NextAttemptAt <= now.UnixMilli()
}

// HasParent reports whether the record references a parent by local id.
func (r MutationRecord) HasParent() bool {
	return r.ParentID != ""
}

// IDGenerator produces local record ids.
// Implemented by UUIDv7Generator (production) and fixed generators in tests.
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 record ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new hyphenated UUIDv7.
// Panics if the system random source fails.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// New builds an unsynced record stamped with now.
func New(id, collection, parentID string, payload json.RawMessage, now time.Time) MutationRecord {
	return MutationRecord{
		ID:         id,
		Collection: collection,
		ParentID:   parentID,
		Payload:    payload,
		Timestamp:  now.UnixMilli(),
	}
}
