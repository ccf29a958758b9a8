// Package debounce coalesces bursts of triggers into a single trailing-edge
// action. The sync engine uses one debouncer per follow-up action (page
// reload, docs refetch) so that a storm of observed mutations settles into
// one downstream effect.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs its action exactly once per quiet period. Every Trigger
// cancels the pending schedule and restarts the countdown, so continuous
// triggering postpones the action indefinitely. That is the intended
// batching behavior, not a defect.
type Debouncer struct {
	mu       sync.Mutex
	action   func()
	delay    time.Duration
	timer    *time.Timer
	disposed bool
}

// New creates a debouncer for action with the given quiet period.
func New(action func(), delay time.Duration) *Debouncer {
	return &Debouncer{action: action, delay: delay}
}

// Trigger records a request and (re)schedules the action to run after the
// quiet period elapses with no further triggers. After Dispose it is a no-op.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	action := d.action
	d.mu.Unlock()

	action()
}

// Pending reports whether a schedule is currently armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Dispose cancels any pending schedule and releases the timer. Subsequent
// Trigger calls do nothing, so a late timer can never fire after teardown.
func (d *Debouncer) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disposed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
