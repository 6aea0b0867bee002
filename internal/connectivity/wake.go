package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrWakeUnsupported is returned by a Waker the host cannot honour.
var ErrWakeUnsupported = errors.New("background wake not supported")

// Waker asks the host environment to call fn periodically or when it is
// convenient, even when the application is in the background.
type Waker interface {
	Register(ctx context.Context, fn func()) error
}

// IntervalWaker calls fn every Interval until ctx ends.
type IntervalWaker struct {
	Interval time.Duration
}

// Register implements Waker. A non-positive interval is unsupported.
func (w IntervalWaker) Register(ctx context.Context, fn func()) error {
	if w.Interval <= 0 {
		return ErrWakeUnsupported
	}
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return nil
}

// RegisterWake registers fn with w on a best-effort basis. A nil waker or one
// that fails is logged and otherwise ignored; it reports whether registration
// took effect.
func RegisterWake(ctx context.Context, w Waker, fn func()) bool {
	if w == nil {
		slog.Debug("background wake not configured")
		return false
	}
	if err := w.Register(ctx, fn); err != nil {
		if errors.Is(err, ErrWakeUnsupported) {
			slog.Debug("background wake unavailable", "error", err)
		} else {
			slog.Warn("background wake registration failed", "error", err)
		}
		return false
	}
	return true
}
