package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/ferry/internal/record"
)

// RegisterCollections upserts collection declarations into the registry.
// Registration is additive: collections absent from specs are left alone.
func (s *Store) RegisterCollections(ctx context.Context, specs []record.CollectionSpec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("register collections", err)
	}
	defer tx.Rollback()

	for _, spec := range specs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO collections (name, parent, parent_field)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				parent = excluded.parent,
				parent_field = excluded.parent_field
		`, spec.Name, spec.Parent, spec.ParentField)
		if err != nil {
			return wrap("register collections", fmt.Errorf("%s: %w", spec.Name, err))
		}
	}

	return wrap("register collections", tx.Commit())
}

// Add inserts a new record into collection.
//
// Returns *DuplicateKeyError if (collection, id) exists and
// ErrUnknownCollection if the collection is not registered. The record's
// Collection field is ignored in favour of the argument.
func (s *Store) Add(ctx context.Context, collection string, rec record.MutationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutations
		(collection, id, parent_id, payload, timestamp, synced,
		 attempts, next_attempt_at, last_error, needs_review, synced_at, remote_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		collection,
		rec.ID,
		rec.ParentID,
		[]byte(rec.Payload),
		rec.Timestamp,
		rec.Synced,
		rec.Attempts,
		rec.NextAttemptAt,
		rec.LastError,
		rec.NeedsReview,
		rec.SyncedAt,
		rec.RemoteID,
	)
	if err == nil {
		return nil
	}

	if code, ok := constraintCode(err); ok {
		switch code {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return &DuplicateKeyError{Collection: collection, ID: rec.ID}
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("add %s/%s: %w", collection, rec.ID, ErrUnknownCollection)
		}
	}
	return wrap("add", err)
}

// MarkSynced flips a record to synced and records its remote id in the
// translation table, in one transaction.
//
// Idempotent: a second call leaves synced_at and remote_id as the first call
// wrote them and returns nil. Returns ErrRecordNotFound for a missing record.
func (s *Store) MarkSynced(ctx context.Context, collection, id, remoteID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("mark synced", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE mutations SET
			synced_at    = CASE WHEN synced = 1 THEN synced_at ELSE ? END,
			remote_id    = CASE WHEN synced = 1 THEN remote_id ELSE ? END,
			synced       = 1,
			needs_review = 0,
			last_error   = ''
		WHERE collection = ? AND id = ?
	`, now.UnixMilli(), remoteID, collection, id)
	if err != nil {
		return wrap("mark synced", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrap("mark synced", err)
	} else if n == 0 {
		return fmt.Errorf("mark synced %s/%s: %w", collection, id, ErrRecordNotFound)
	}

	if remoteID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO id_map (local_id, collection, remote_id, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(local_id) DO NOTHING
		`, id, collection, remoteID, now.UnixMilli())
		if err != nil {
			return wrap("mark synced", err)
		}
	}

	return wrap("mark synced", tx.Commit())
}

// Failure describes one unsuccessful submission attempt.
type Failure struct {
	Error         string
	NextAttemptAt time.Time
	NeedsReview   bool
}

// RecordFailure increments a record's attempt counter and stores its retry
// schedule. Synced records are left untouched.
func (s *Store) RecordFailure(ctx context.Context, collection, id string, f Failure) error {
	var next int64
	if !f.NextAttemptAt.IsZero() {
		next = f.NextAttemptAt.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE mutations SET
			attempts        = attempts + 1,
			last_error      = ?,
			next_attempt_at = ?,
			needs_review    = ?
		WHERE collection = ? AND id = ? AND synced = 0
	`, f.Error, next, f.NeedsReview, collection, id)
	if err != nil {
		return wrap("record failure", err)
	}
	return expectRow(res, "record failure", collection, id)
}

// ResetReview returns a needs-review record to the pending queue with a
// fresh attempt budget.
func (s *Store) ResetReview(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutations SET
			needs_review    = 0,
			attempts        = 0,
			next_attempt_at = 0
		WHERE collection = ? AND id = ? AND synced = 0
	`, collection, id)
	if err != nil {
		return wrap("reset review", err)
	}
	return expectRow(res, "reset review", collection, id)
}

// PruneSynced deletes synced records whose synced_at is before cutoff.
// A record still referenced by an unsynced dependent is kept. The id_map is
// kept in full so late dependents can still resolve their parent.
func (s *Store) PruneSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM mutations
		WHERE synced = 1
		  AND synced_at < ?
		  AND NOT EXISTS (
			SELECT 1 FROM mutations AS dep
			WHERE dep.synced = 0 AND dep.parent_id = mutations.id
		  )
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, wrap("prune synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("prune synced", err)
	}
	return n, nil
}

// ClearAll erases every record, id mapping, lease and setting. The collection
// registry survives. Used for full local resets such as sign-out.
func (s *Store) ClearAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("clear all", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"mutations", "id_map", "sync_leases", "settings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return wrap("clear all", fmt.Errorf("%s: %w", table, err))
		}
	}
	return wrap("clear all", tx.Commit())
}

// SetSetting stores value under key, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return wrap("set setting", err)
}

func expectRow(res sql.Result, op, collection, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s/%s: %w", op, collection, id, ErrRecordNotFound)
	}
	return nil
}
