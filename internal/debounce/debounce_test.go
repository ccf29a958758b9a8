package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerCoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	d := New(func() { calls.Add(1) }, 30*time.Millisecond)
	defer d.Dispose()

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 },
		500*time.Millisecond, 5*time.Millisecond, "burst should produce exactly one execution")

	// No stray second execution after the window closes.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTriggerRestartsCountdown(t *testing.T) {
	var calls atomic.Int32
	d := New(func() { calls.Add(1) }, 40*time.Millisecond)
	defer d.Dispose()

	d.Trigger()
	time.Sleep(25 * time.Millisecond)
	d.Trigger() // restarts the 40ms countdown
	time.Sleep(25 * time.Millisecond)

	// 50ms since first trigger but only 25ms since the last one.
	assert.Equal(t, int32(0), calls.Load())

	require.Eventually(t, func() bool { return calls.Load() == 1 },
		500*time.Millisecond, 5*time.Millisecond)
}

func TestPending(t *testing.T) {
	d := New(func() {}, 20*time.Millisecond)
	defer d.Dispose()

	assert.False(t, d.Pending())
	d.Trigger()
	assert.True(t, d.Pending())

	require.Eventually(t, func() bool { return !d.Pending() },
		500*time.Millisecond, 5*time.Millisecond)
}

func TestDisposeCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := New(func() { calls.Add(1) }, 20*time.Millisecond)

	d.Trigger()
	d.Dispose()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "disposed timer must not fire")
}

func TestTriggerAfterDisposeIsNoop(t *testing.T) {
	var calls atomic.Int32
	d := New(func() { calls.Add(1) }, 10*time.Millisecond)

	d.Dispose()
	d.Trigger()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.False(t, d.Pending())
}
