package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWaker struct{ err error }

func (w failingWaker) Register(context.Context, func()) error { return w.err }

func TestRegisterWake_BestEffort(t *testing.T) {
	ctx := context.Background()

	assert.False(t, RegisterWake(ctx, nil, func() {}))
	assert.False(t, RegisterWake(ctx, failingWaker{ErrWakeUnsupported}, func() {}))
	assert.False(t, RegisterWake(ctx, failingWaker{errors.New("denied")}, func() {}))
	assert.False(t, RegisterWake(ctx, IntervalWaker{}, func() {}))
}

func TestIntervalWaker_Ticks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.True(t, RegisterWake(ctx, IntervalWaker{Interval: 10 * time.Millisecond}, func() {
		calls.Add(1)
	}))

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "no ticks after cancel")
}
