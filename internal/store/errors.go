package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors.
var (
	// ErrUnknownCollection means the collection was never registered.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrRecordNotFound is returned by writes that target a missing record.
	// Point reads report absence through their found result instead.
	ErrRecordNotFound = errors.New("record not found")

	// ErrLeaseHeld means a live lease belongs to another holder.
	ErrLeaseHeld = errors.New("sync lease held by another holder")

	// ErrInvalidLeaseToken means the lease was taken over or released.
	ErrInvalidLeaseToken = errors.New("invalid sync lease token")
)

// StorageError wraps a driver failure with the store operation that hit it.
// Storage errors are surfaced to the caller and never retried internally.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DuplicateKeyError reports an Add whose (collection, id) already exists.
type DuplicateKeyError struct {
	Collection string
	ID         string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %s/%s", e.Collection, e.ID)
}

// SchemaUpgradeError reports a migration that could not be applied. The
// database is left at version From with its rows untouched.
type SchemaUpgradeError struct {
	From int
	To   int
	Step string
	Err  error
}

func (e *SchemaUpgradeError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("schema upgrade %d -> %d (%s): %v", e.From, e.To, e.Step, e.Err)
	}
	return fmt.Sprintf("schema upgrade %d -> %d: %v", e.From, e.To, e.Err)
}

func (e *SchemaUpgradeError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsDuplicateKey reports whether err is (or wraps) a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var de *DuplicateKeyError
	return errors.As(err, &de)
}

// IsSchemaUpgrade reports whether err is (or wraps) a SchemaUpgradeError.
func IsSchemaUpgrade(err error) bool {
	var se *SchemaUpgradeError
	return errors.As(err, &se)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// constraintCode returns the extended SQLite constraint code of err, if any.
func constraintCode(err error) (sqlite3.ErrNoExtended, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return se.ExtendedCode, true
	}
	return 0, false
}
