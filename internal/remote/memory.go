package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Submission is one call observed by a Memory adapter.
type Submission struct {
	Collection     string          `json:"collection"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	RemoteID       string          `json:"remote_id,omitempty"`
	Err            string          `json:"error,omitempty"`
}

// FailFunc decides whether a submission fails. Returning nil lets it through.
type FailFunc func(collection string, payload json.RawMessage, idempotencyKey string) error

// Memory is an in-process remote store.
//
// It deduplicates by idempotency key: a repeated key returns the remote id
// issued the first time without creating a second row. Remote ids are
// "remote-1", "remote-2", ... in creation order unless WithRemoteIDs says
// otherwise.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	seq         int
	byKey       map[string]string
	rows        map[string]json.RawMessage
	submissions []Submission
	fail        FailFunc
	failNext    []error
	newID       func(collection, key string) string
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithRemoteIDs derives remote ids from the collection and idempotency key
// instead of a creation counter. Useful when collections drain concurrently
// and ids must not depend on scheduling.
func WithRemoteIDs(fn func(collection, key string) string) MemoryOption {
	return func(m *Memory) {
		m.newID = fn
	}
}

// NewMemory returns an empty in-memory remote store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byKey: make(map[string]string),
		rows:  make(map[string]json.RawMessage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create implements Adapter.
func (m *Memory) Create(ctx context.Context, collection string, payload json.RawMessage, idempotencyKey string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &SubmissionError{Collection: collection, Key: idempotencyKey, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub := Submission{
		Collection:     collection,
		IdempotencyKey: idempotencyKey,
		Payload:        append(json.RawMessage(nil), payload...),
	}

	if err := m.injectedFailure(collection, payload, idempotencyKey); err != nil {
		sub.Err = err.Error()
		m.submissions = append(m.submissions, sub)
		return Result{}, err
	}

	remoteID, seen := m.byKey[idempotencyKey]
	if !seen {
		m.seq++
		if m.newID != nil {
			remoteID = m.newID(collection, idempotencyKey)
		} else {
			remoteID = fmt.Sprintf("remote-%d", m.seq)
		}
		m.byKey[idempotencyKey] = remoteID
		m.rows[remoteID] = sub.Payload
	}

	sub.RemoteID = remoteID
	m.submissions = append(m.submissions, sub)
	return Result{RemoteID: remoteID}, nil
}

func (m *Memory) injectedFailure(collection string, payload json.RawMessage, key string) error {
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		if err != nil {
			return err
		}
	}
	if m.fail != nil {
		return m.fail(collection, payload, key)
	}
	return nil
}

// SetFailFunc installs fn as the failure hook; nil removes it.
func (m *Memory) SetFailFunc(fn FailFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// FailNext queues errors returned by the next calls, in order. A nil entry
// lets that call through.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// Submissions returns every call observed so far, in call order.
func (m *Memory) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Submission(nil), m.submissions...)
}

// Rows returns the number of distinct remote rows created.
func (m *Memory) Rows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Row returns the payload stored under remoteID.
func (m *Memory) Row(remoteID string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[remoteID]
	return p, ok
}

// HasRemoteID reports whether remoteID was issued by this store.
func (m *Memory) HasRemoteID(remoteID string) bool {
	_, ok := m.Row(remoteID)
	return ok
}
