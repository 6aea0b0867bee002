package engine

import "sync"

// triggerSignal is a coalescing wake-up channel for the Run loop.
//
// Any number of Fire calls between two receives collapse into one pass:
// the buffer of 1 holds at most one pending signal.
type triggerSignal struct {
	mu     sync.Mutex
	closed bool
	signal chan struct{}
}

func newTriggerSignal() *triggerSignal {
	return &triggerSignal{signal: make(chan struct{}, 1)}
}

// Fire requests a pass. Non-blocking; returns false once closed.
func (t *triggerSignal) Fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	select {
	case t.signal <- struct{}{}:
	default:
	}
	return true
}

// Wait returns the channel that receives pending signals. It is closed by
// Close, which wakes the Run loop for shutdown.
func (t *triggerSignal) Wait() <-chan struct{} {
	return t.signal
}

// Close stops accepting signals.
func (t *triggerSignal) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	close(t.signal)
}
