package engine

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
)

// RetryPolicy bounds how often a failing record is retried.
type RetryPolicy struct {
	// MaxAttempts is the number of failed attempts after which a record is
	// parked in needs-review. Zero means retry forever.
	MaxAttempts int

	// RejectedAttempts is the budget for records the remote store refused
	// outright (a 4xx that is not about auth or throttling). Zero falls back
	// to MaxAttempts; it never exceeds MaxAttempts.
	RejectedAttempts int

	// BackoffMin is the delay after the first failure.
	BackoffMin time.Duration

	// BackoffMax caps every delay, jitter included.
	BackoffMax time.Duration

	// Multiplier grows the delay per attempt.
	Multiplier float64

	// Jitter is the randomization factor in [0, 1): a delay d is drawn from
	// [d*(1-Jitter), d*(1+Jitter)] before capping.
	Jitter float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      8,
		RejectedAttempts: 3,
		BackoffMin:       5 * time.Second,
		BackoffMax:       30 * time.Minute,
		Multiplier:       2,
		Jitter:           0.2,
	}
}

// Validate checks the policy for usable values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be >= 0, got %d", p.MaxAttempts)
	}
	if p.RejectedAttempts < 0 {
		return fmt.Errorf("rejected attempts must be >= 0, got %d", p.RejectedAttempts)
	}
	if p.BackoffMin <= 0 {
		return fmt.Errorf("backoff min must be positive, got %s", p.BackoffMin)
	}
	if p.BackoffMax < p.BackoffMin {
		return fmt.Errorf("backoff max %s is below backoff min %s", p.BackoffMax, p.BackoffMin)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %g", p.Jitter)
	}
	return nil
}

// Exhausted reports whether a record with attempts failures is out of budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// ExhaustedRejected is Exhausted for records the remote store refused.
func (p RetryPolicy) ExhaustedRejected(attempts int) bool {
	limit := p.RejectedAttempts
	if limit == 0 || (p.MaxAttempts > 0 && limit > p.MaxAttempts) {
		limit = p.MaxAttempts
	}
	return limit > 0 && attempts >= limit
}

// Delay returns the wait before the next attempt of a record that has failed
// attempts times (attempts >= 1). The result is always in
// (0, BackoffMax].
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BackoffMin,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.BackoffMax,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
		if d == backoff.Stop {
			return p.BackoffMax
		}
	}

	if d > p.BackoffMax {
		d = p.BackoffMax
	}
	if d <= 0 {
		d = p.BackoffMin
	}
	return d
}
