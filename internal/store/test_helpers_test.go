package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/ferry/internal/record"
)

// testNow is a fixed wall time for deterministic timestamps.
var testNow = time.UnixMilli(1_700_000_000_000)

// createTestStore creates a new store in a temp directory with the default
// collections registered.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.RegisterCollections(context.Background(), record.DefaultCollections()); err != nil {
		t.Fatalf("RegisterCollections() failed: %v", err)
	}
	return s
}

// createTestRecord creates an unsynced record with a minimal payload.
func createTestRecord(id, parentID string, ts int64) record.MutationRecord {
	return record.MutationRecord{
		ID:        id,
		ParentID:  parentID,
		Payload:   json.RawMessage(`{"name":"` + id + `"}`),
		Timestamp: ts,
	}
}

// mustAdd adds rec to collection or fails the test.
func mustAdd(t *testing.T, s *Store, collection string, rec record.MutationRecord) {
	t.Helper()
	if err := s.Add(context.Background(), collection, rec); err != nil {
		t.Fatalf("Add(%s, %s) failed: %v", collection, rec.ID, err)
	}
}
