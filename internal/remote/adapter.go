package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Adapter submits create operations to the remote store.
type Adapter interface {
	Create(ctx context.Context, collection string, payload json.RawMessage, idempotencyKey string) (Result, error)
}

// Result is the remote store's answer to a successful create.
type Result struct {
	RemoteID string `json:"id"`
}

// SubmissionError is any failure returned by an adapter for one record.
//
// StatusCode is 0 for transport failures (timeouts, refused connections).
type SubmissionError struct {
	Collection string
	Key        string
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("submit %s/%s: status %d: %s", e.Collection, e.Key, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("submit %s/%s: status %d", e.Collection, e.Key, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("submit %s/%s: %v", e.Collection, e.Key, e.Err)
	default:
		return fmt.Sprintf("submit %s/%s: %s", e.Collection, e.Key, e.Message)
	}
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the remote store refused the request body
// itself: a 4xx other than 401, 403, 407, 408, 425 and 429. Transport
// failures, 2xx responses that could not be read, redirects and 5xx are not
// rejections.
//
// A rejection is still retried, on a shorter budget; no submission error
// parks a record on its own.
func (e *SubmissionError) Rejected() bool {
	if e.StatusCode < 400 || e.StatusCode > 499 {
		return false
	}
	switch e.StatusCode {
	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusProxyAuthRequired,
		http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests:
		return false
	}
	return true
}

// IsRejected reports whether err carries a SubmissionError the remote store
// refused outright.
func IsRejected(err error) bool {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Rejected()
	}
	return false
}

// StatusCode extracts the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
