package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Lease is a durable, time-bounded claim on a named lock.
type Lease struct {
	Name       string    `json:"name"`
	Holder     string    `json:"holder"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// IsExpired reports whether the lease has lapsed at now.
func (l Lease) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// GenerateLeaseToken returns a random 128-bit hex token.
func GenerateLeaseToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lease token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AcquireLease claims the lease name for holder until now+ttl.
//
// The claim succeeds when no lease exists, when the existing lease has
// expired, or when holder already owns it; each success issues a fresh token.
// Otherwise it returns ErrLeaseHeld. The check and the write are one
// statement, so two processes cannot both win.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (Lease, error) {
	token, err := GenerateLeaseToken()
	if err != nil {
		return Lease{}, err
	}

	lease := Lease{
		Name:       name,
		Holder:     holder,
		Token:      token,
		ExpiresAt:  now.Add(ttl),
		AcquiredAt: now,
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_leases (name, holder, token, expires_at, acquired_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder      = excluded.holder,
			token       = excluded.token,
			expires_at  = excluded.expires_at,
			acquired_at = excluded.acquired_at
		WHERE sync_leases.expires_at <= ? OR sync_leases.holder = excluded.holder
	`, name, holder, token, lease.ExpiresAt.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Lease{}, wrap("acquire lease", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Lease{}, wrap("acquire lease", err)
	}
	if n == 0 {
		current, found, err := s.GetLease(ctx, name)
		if err != nil {
			return Lease{}, err
		}
		if found {
			return Lease{}, fmt.Errorf("%w: %s until %s", ErrLeaseHeld,
				current.Holder, current.ExpiresAt.UTC().Format(time.RFC3339))
		}
		return Lease{}, ErrLeaseHeld
	}
	return lease, nil
}

// RenewLease extends a lease held under token to now+ttl.
// Returns ErrInvalidLeaseToken if the lease was released or taken over.
func (s *Store) RenewLease(ctx context.Context, name, token string, ttl time.Duration, now time.Time) (Lease, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_leases SET expires_at = ?
		WHERE name = ? AND token = ?
	`, now.Add(ttl).UnixMilli(), name, token)
	if err != nil {
		return Lease{}, wrap("renew lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Lease{}, wrap("renew lease", err)
	}
	if n == 0 {
		return Lease{}, ErrInvalidLeaseToken
	}

	lease, _, err := s.GetLease(ctx, name)
	return lease, err
}

// ReleaseLease deletes a lease held under token.
// Returns ErrInvalidLeaseToken if the lease was already released or taken over.
func (s *Store) ReleaseLease(ctx context.Context, name, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_leases WHERE name = ? AND token = ?`, name, token)
	if err != nil {
		return wrap("release lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("release lease", err)
	}
	if n == 0 {
		return ErrInvalidLeaseToken
	}
	return nil
}

// GetLease returns the current lease row for name, expired or not.
func (s *Store) GetLease(ctx context.Context, name string) (Lease, bool, error) {
	var (
		lease               Lease
		expires, acquiredAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT name, holder, token, expires_at, acquired_at
		FROM sync_leases WHERE name = ?
	`, name).Scan(&lease.Name, &lease.Holder, &lease.Token, &expires, &acquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Lease{}, false, nil
	}
	if err != nil {
		return Lease{}, false, wrap("get lease", err)
	}
	lease.ExpiresAt = time.UnixMilli(expires)
	lease.AcquiredAt = time.UnixMilli(acquiredAt)
	return lease, true, nil
}
