package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/roach88/ferry/internal/record"
)

const recordColumns = `
	collection, id, parent_id, payload, timestamp, synced,
	attempts, next_attempt_at, last_error, needs_review, synced_at, remote_id`

// Get returns the record (collection, id). A missing record is reported with
// found == false, not an error.
func (s *Store) Get(ctx context.Context, collection, id string) (record.MutationRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM mutations
		WHERE collection = ? AND id = ?
	`, collection, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.MutationRecord{}, false, nil
	}
	if err != nil {
		return record.MutationRecord{}, false, wrap("get", err)
	}
	return rec, true, nil
}

// GetUnsynced returns every record of collection with synced == false,
// including records waiting out a backoff or in needs-review.
//
// Records come back in timestamp order, then id. Callers that need an order
// should still sort themselves.
func (s *Store) GetUnsynced(ctx context.Context, collection string) ([]record.MutationRecord, error) {
	return s.queryRecords(ctx, "get unsynced", `
		SELECT `+recordColumns+`
		FROM mutations
		WHERE collection = ? AND synced = 0
		ORDER BY timestamp ASC, id COLLATE BINARY ASC
	`, collection)
}

// GetDue returns the unsynced records of collection that are not in
// needs-review and whose backoff has elapsed at now.
func (s *Store) GetDue(ctx context.Context, collection string, now time.Time) ([]record.MutationRecord, error) {
	return s.queryRecords(ctx, "get due", `
		SELECT `+recordColumns+`
		FROM mutations
		WHERE collection = ? AND synced = 0 AND needs_review = 0 AND next_attempt_at <= ?
		ORDER BY timestamp ASC, id COLLATE BINARY ASC
	`, collection, now.UnixMilli())
}

// ListNeedsReview returns the records of collection parked in needs-review.
func (s *Store) ListNeedsReview(ctx context.Context, collection string) ([]record.MutationRecord, error) {
	return s.queryRecords(ctx, "list needs review", `
		SELECT `+recordColumns+`
		FROM mutations
		WHERE collection = ? AND synced = 0 AND needs_review = 1
		ORDER BY timestamp ASC, id COLLATE BINARY ASC
	`, collection)
}

// Count returns the number of records in collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	return s.count(ctx, "count", `SELECT COUNT(*) FROM mutations WHERE collection = ?`, collection)
}

// CountUnsynced returns the number of records in collection with synced == false.
func (s *Store) CountUnsynced(ctx context.Context, collection string) (int, error) {
	return s.count(ctx, "count unsynced",
		`SELECT COUNT(*) FROM mutations WHERE collection = ? AND synced = 0`, collection)
}

// CountNeedsReview returns the number of records in collection parked in needs-review.
func (s *Store) CountNeedsReview(ctx context.Context, collection string) (int, error) {
	return s.count(ctx, "count needs review",
		`SELECT COUNT(*) FROM mutations WHERE collection = ? AND synced = 0 AND needs_review = 1`, collection)
}

// CollectionStats summarizes one registered collection.
type CollectionStats struct {
	Name        string `json:"name"`
	Parent      string `json:"parent,omitempty"`
	Total       int    `json:"total"`
	Unsynced    int    `json:"unsynced"`
	NeedsReview int    `json:"needs_review"`
}

// Stats returns per-collection counts for every registered collection,
// including empty ones, ordered by name.
func (s *Store) Stats(ctx context.Context) ([]CollectionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.name, c.parent,
			COUNT(m.id),
			COALESCE(SUM(CASE WHEN m.synced = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN m.synced = 0 AND m.needs_review = 1 THEN 1 ELSE 0 END), 0)
		FROM collections AS c
		LEFT JOIN mutations AS m ON m.collection = c.name
		GROUP BY c.name, c.parent
		ORDER BY c.name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, wrap("stats", err)
	}
	defer rows.Close()

	stats := []CollectionStats{}
	for rows.Next() {
		var cs CollectionStats
		if err := rows.Scan(&cs.Name, &cs.Parent, &cs.Total, &cs.Unsynced, &cs.NeedsReview); err != nil {
			return nil, wrap("stats", err)
		}
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("stats", err)
	}
	return stats, nil
}

// Collections returns the registered collection declarations, ordered by name.
func (s *Store) Collections(ctx context.Context) ([]record.CollectionSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, parent, parent_field FROM collections ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, wrap("collections", err)
	}
	defer rows.Close()

	var specs []record.CollectionSpec
	for rows.Next() {
		var spec record.CollectionSpec
		if err := rows.Scan(&spec.Name, &spec.Parent, &spec.ParentField); err != nil {
			return nil, wrap("collections", err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("collections", err)
	}
	return specs, nil
}

// LookupRemoteID returns the remote id recorded for a local id.
func (s *Store) LookupRemoteID(ctx context.Context, localID string) (string, bool, error) {
	var remoteID string
	err := s.db.QueryRowContext(ctx, `SELECT remote_id FROM id_map WHERE local_id = ?`, localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("lookup remote id", err)
	}
	return remoteID, true, nil
}

// GetSetting returns the value stored under key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("get setting", err)
	}
	return value, true, nil
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...any) ([]record.MutationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	records := []record.MutationRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return records, nil
}

func (s *Store) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, wrap(op, err)
	}
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.MutationRecord, error) {
	var (
		rec     record.MutationRecord
		payload []byte
	)
	err := row.Scan(
		&rec.Collection,
		&rec.ID,
		&rec.ParentID,
		&payload,
		&rec.Timestamp,
		&rec.Synced,
		&rec.Attempts,
		&rec.NextAttemptAt,
		&rec.LastError,
		&rec.NeedsReview,
		&rec.SyncedAt,
		&rec.RemoteID,
	)
	if err != nil {
		return record.MutationRecord{}, err
	}
	rec.Payload = payload
	return rec, nil
}
