package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ferry/internal/record"
)

func TestAdd_ThenGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("p1", "", 10)
	mustAdd(t, s, record.PrimaryCollection, rec)

	got, found, err := s.Get(ctx, record.PrimaryCollection, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, record.PrimaryCollection, got.Collection)
	assert.False(t, got.Synced)
	assert.Equal(t, int64(10), got.Timestamp)
	assert.JSONEq(t, string(rec.Payload), string(got.Payload))
}

func TestAdd_DuplicateKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p1", "", 1))
	err := s.Add(ctx, record.PrimaryCollection, createTestRecord("p1", "", 2))
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "p1", dup.ID)

	// Same id in another collection is fine.
	mustAdd(t, s, record.DependentCollectionA, createTestRecord("p1", "", 3))
}

func TestAdd_UnknownCollection(t *testing.T) {
	s := createTestStore(t)

	err := s.Add(context.Background(), "nope", createTestRecord("x", "", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestMarkSynced_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p1", "", 1))

	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "p1", "remote-1", testNow))
	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "p1", "remote-other", testNow.Add(time.Hour)))

	got, found, err := s.Get(ctx, record.PrimaryCollection, "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Synced)
	assert.Equal(t, "remote-1", got.RemoteID, "first call wins")
	assert.Equal(t, testNow.UnixMilli(), got.SyncedAt)

	remoteID, ok, err := s.LookupRemoteID(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "remote-1", remoteID)
}

func TestMarkSynced_Missing(t *testing.T) {
	s := createTestStore(t)

	err := s.MarkSynced(context.Background(), record.PrimaryCollection, "ghost", "r", testNow)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetUnsynced_NeverReturnsSynced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d"} {
		mustAdd(t, s, record.PrimaryCollection, createTestRecord(id, "", int64(i)))
	}

	check := func() {
		t.Helper()
		pending, err := s.GetUnsynced(ctx, record.PrimaryCollection)
		require.NoError(t, err)
		for _, rec := range pending {
			assert.False(t, rec.Synced, "GetUnsynced returned synced record %s", rec.ID)
		}
	}

	check()
	for _, id := range []string{"b", "d"} {
		require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, id, "r-"+id, testNow))
		check()
	}
	require.NoError(t, s.RecordFailure(ctx, record.PrimaryCollection, "a", Failure{Error: "boom"}))
	check()

	pending, err := s.GetUnsynced(ctx, record.PrimaryCollection)
	require.NoError(t, err)
	ids := []string{}
	for _, rec := range pending {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestRecordFailure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p1", "", 1))

	next := testNow.Add(30 * time.Second)
	require.NoError(t, s.RecordFailure(ctx, record.PrimaryCollection, "p1", Failure{
		Error:         "503 unavailable",
		NextAttemptAt: next,
	}))

	got, _, err := s.Get(ctx, record.PrimaryCollection, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, next.UnixMilli(), got.NextAttemptAt)
	assert.Equal(t, "503 unavailable", got.LastError)
	assert.False(t, got.NeedsReview)

	due, err := s.GetDue(ctx, record.PrimaryCollection, testNow)
	require.NoError(t, err)
	assert.Empty(t, due, "not due before backoff elapses")

	due, err = s.GetDue(ctx, record.PrimaryCollection, next)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestRecordFailure_NeedsReviewAndReset(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p1", "", 1))

	require.NoError(t, s.RecordFailure(ctx, record.PrimaryCollection, "p1", Failure{
		Error:       "400 bad request",
		NeedsReview: true,
	}))

	due, err := s.GetDue(ctx, record.PrimaryCollection, testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due, "needs-review records are never due")

	n, err := s.CountNeedsReview(ctx, record.PrimaryCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	review, err := s.ListNeedsReview(ctx, record.PrimaryCollection)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "400 bad request", review[0].LastError)

	// Still counted as unsynced.
	n, err = s.CountUnsynced(ctx, record.PrimaryCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.ResetReview(ctx, record.PrimaryCollection, "p1"))
	due, err = s.GetDue(ctx, record.PrimaryCollection, testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].Attempts)
}

func TestRecordFailure_IgnoresSynced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p1", "", 1))
	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "p1", "r1", testNow))

	err := s.RecordFailure(ctx, record.PrimaryCollection, "p1", Failure{Error: "late"})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestPruneSynced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, record.PrimaryCollection, createTestRecord("old", "", 1))
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("parent", "", 2))
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("fresh", "", 3))
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("pending", "", 4))
	mustAdd(t, s, record.DependentCollectionA, createTestRecord("child", "parent", 5))

	old := testNow.Add(-48 * time.Hour)
	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "old", "r-old", old))
	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "parent", "r-parent", old))
	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "fresh", "r-fresh", testNow))

	n, err := s.PruneSynced(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, found, err := s.Get(ctx, record.PrimaryCollection, "old")
	require.NoError(t, err)
	assert.False(t, found, "old synced record pruned")

	for _, id := range []string{"parent", "fresh", "pending"} {
		_, found, err := s.Get(ctx, record.PrimaryCollection, id)
		require.NoError(t, err)
		assert.True(t, found, "%s kept", id)
	}

	remoteID, ok, err := s.LookupRemoteID(ctx, "old")
	require.NoError(t, err)
	assert.True(t, ok, "mapping outlives the pruned record")
	assert.Equal(t, "r-old", remoteID)
}

func TestClearAll(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p1", "", 1))
	mustAdd(t, s, record.DependentCollectionA, createTestRecord("d1", "p1", 2))
	require.NoError(t, s.MarkSynced(ctx, record.PrimaryCollection, "p1", "r1", testNow))
	require.NoError(t, s.SetSetting(ctx, "last_sync_at", "x"))
	_, err := s.AcquireLease(ctx, "sync", "h", time.Minute, testNow)
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	for _, c := range []string{record.PrimaryCollection, record.DependentCollectionA} {
		n, err := s.Count(ctx, c)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	_, ok, err := s.LookupRemoteID(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetSetting(ctx, "last_sync_at")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.GetLease(ctx, "sync")
	require.NoError(t, err)
	assert.False(t, ok)

	// Collections stay registered.
	mustAdd(t, s, record.PrimaryCollection, createTestRecord("p2", "", 3))
}

func TestRegisterCollections_Additive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterCollections(ctx, []record.CollectionSpec{{Name: "extra"}}))

	specs, err := s.Collections(ctx)
	require.NoError(t, err)
	names := []string{}
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	assert.ElementsMatch(t, []string{
		record.PrimaryCollection, record.DependentCollectionA, record.DependentCollectionB, "extra",
	}, names)
}

func TestStorageError_WrapsDriverError(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())

	_, _, err := s.Get(context.Background(), record.PrimaryCollection, "x")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "get", se.Op)
}

func TestSettings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "k", "v1"))
	require.NoError(t, s.SetSetting(ctx, "k", "v2"))

	v, ok, err := s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestAdd_PreservesPayloadBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"z":1,"a":[1.50,"<b>"]}`)
	rec := createTestRecord("p1", "", 1)
	rec.Payload = payload
	mustAdd(t, s, record.PrimaryCollection, rec)

	got, _, err := s.Get(ctx, record.PrimaryCollection, "p1")
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(got.Payload))
}
