package store

import (
	"context"
	"testing"

	"github.com/roach88/ferry/internal/record"
)

func TestGet_NotFoundIsNotAnError(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.Get(context.Background(), record.PrimaryCollection, "missing")
	if err != nil {
		t.Fatalf("Get() error = %v, want nil", err)
	}
	if found {
		t.Error("Get() found = true for missing record")
	}
}

func TestGetUnsynced_TimestampThenIDOrder(t *testing.T) {
	s := createTestStore(t)

	mustAdd(t, s, record.PrimaryCollection, createTestRecord("c", "", 2))
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("b", "", 1))
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("a", "", 2))

	got, err := s.GetUnsynced(context.Background(), record.PrimaryCollection)
	if err != nil {
		t.Fatalf("GetUnsynced() failed: %v", err)
	}

	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}
	for i, rec := range got {
		if rec.ID != want[i] {
			t.Errorf("got[%d].ID = %q, want %q", i, rec.ID, want[i])
		}
	}
}

func TestGetUnsynced_EmptyCollection(t *testing.T) {
	s := createTestStore(t)

	got, err := s.GetUnsynced(context.Background(), record.DependentCollectionB)
	if err != nil {
		t.Fatalf("GetUnsynced() failed: %v", err)
	}
	if got == nil {
		t.Error("GetUnsynced() returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("got %d records, want 0", len(got))
	}
}

func TestCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, record.PrimaryCollection, createTestRecord("a", "", 1))
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("b", "", 2))
	if err := s.MarkSynced(ctx, record.PrimaryCollection, "a", "r-a", testNow); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	total, err := s.Count(ctx, record.PrimaryCollection)
	if err != nil || total != 2 {
		t.Errorf("Count() = %d, %v; want 2, nil", total, err)
	}
	unsynced, err := s.CountUnsynced(ctx, record.PrimaryCollection)
	if err != nil || unsynced != 1 {
		t.Errorf("CountUnsynced() = %d, %v; want 1, nil", unsynced, err)
	}
}

func TestStats_IncludesEmptyCollections(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, record.PrimaryCollection, createTestRecord("a", "", 1))
	mustAdd(t, s, record.DependentCollectionA, createTestRecord("d", "a", 2))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if len(stats) != 3 {
		t.Fatalf("Stats() returned %d rows, want 3", len(stats))
	}

	byName := map[string]CollectionStats{}
	for _, cs := range stats {
		byName[cs.Name] = cs
	}
	if got := byName[record.PrimaryCollection]; got.Total != 1 || got.Unsynced != 1 {
		t.Errorf("primary stats = %+v", got)
	}
	if got := byName[record.DependentCollectionA]; got.Parent != record.PrimaryCollection {
		t.Errorf("dependent A parent = %q", got.Parent)
	}
	if got := byName[record.DependentCollectionB]; got.Total != 0 {
		t.Errorf("dependent B total = %d, want 0", got.Total)
	}
}

func TestLookupRemoteID_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.LookupRemoteID(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("LookupRemoteID() failed: %v", err)
	}
	if ok {
		t.Error("LookupRemoteID() ok = true for unknown id")
	}
}
