package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates UUID-shaped record ids in a fixed sequence:
//
//	00000000-0000-7000-8000-000000000001
//	00000000-0000-7000-8000-000000000002
//	...
//
// The same scenario with the same generator produces byte-identical stores
// and traces. Ids sort in creation order like real UUIDv7s.
//
// Thread-safety: SequentialIDs is safe for concurrent use.
type SequentialIDs struct {
	mu   sync.Mutex
	next uint64
}

// NewSequentialIDs creates a generator whose first id ends in 1.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// NewID returns the next id.
//
// Implements record.IDGenerator interface.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("00000000-0000-7000-8000-%012d", g.next)
}
