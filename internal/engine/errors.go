package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/ferry/internal/remote"
)

// SyncError describes why one record could not be synced in a pass.
//
// Its text is what lands in the record's last_error column.
type SyncError struct {
	// Code identifies the failure category.
	Code SyncErrorCode

	// Collection and RecordID identify the record.
	Collection string
	RecordID   string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes per-record sync failures.
type SyncErrorCode string

const (
	// ErrCodeSubmit indicates the remote adapter rejected or failed the create.
	ErrCodeSubmit SyncErrorCode = "SUBMIT_FAILED"

	// ErrCodePayload indicates the parent id could not be written into the payload.
	ErrCodePayload SyncErrorCode = "INVALID_PAYLOAD"

	// ErrCodeEmptyRemoteID indicates the adapter reported success without an id.
	ErrCodeEmptyRemoteID SyncErrorCode = "EMPTY_REMOTE_ID"

	// ErrCodeStorage indicates a local store failure while handling the record.
	ErrCodeStorage SyncErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s/%s: %s: %v", e.Code, e.Collection, e.RecordID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s/%s: %s", e.Code, e.Collection, e.RecordID, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later pass may succeed with the same record.
// Only a payload that cannot take its parent id is given up on at once; every
// submission failure goes through the retry budget.
func (e *SyncError) Retryable() bool {
	return e.Code != ErrCodePayload
}

// Rejected reports whether the remote store refused the record outright.
// Rejected records are retried on RetryPolicy.RejectedAttempts.
func (e *SyncError) Rejected() bool {
	return e.Code == ErrCodeSubmit && remote.IsRejected(e.Err)
}

// IsRetryable returns true if err is a retryable SyncError.
// Uses errors.As to handle wrapped errors. Any other non-nil error is
// treated as transient.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return err != nil
}

// IsPayloadError returns true if the error is a payload rewrite failure.
func IsPayloadError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodePayload
	}
	return false
}
