package engine

import "time"

// Clock supplies wall time to the engine.
//
// Wall time drives backoff schedules, lease expiry and retention only; it
// never orders records. Tests use a manual clock to step through backoff
// windows deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}
