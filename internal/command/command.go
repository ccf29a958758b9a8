// Package command implements the busy-guarded async command every exposed
// mutating operation runs through. The guard enforces a drop-if-busy policy:
// a second invocation while the action is in flight does nothing, it does
// not queue.
package command

import (
	"context"
	"sync"
)

// Async wraps an asynchronous action with a busy flag. CanExecute is false
// while the action runs or while the optional canRun predicate says no, and
// callers are expected to re-query it after each state-change notification.
type Async struct {
	mu       sync.Mutex
	running  bool
	action   func(context.Context) error
	canRun   func() bool
	onChange func()
}

// Option configures an Async command.
type Option func(*Async)

// WithCanRun attaches a synchronous predicate consulted by CanExecute.
func WithCanRun(pred func() bool) Option {
	return func(a *Async) { a.canRun = pred }
}

// WithStateChanged registers a callback fired when the running state flips,
// so bindings can re-query CanExecute. Fired on start and on completion.
func WithStateChanged(fn func()) Option {
	return func(a *Async) { a.onChange = fn }
}

// New builds a guarded command around action.
func New(action func(context.Context) error, opts ...Option) *Async {
	a := &Async{action: action}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CanExecute reports whether Execute would run the action right now.
func (a *Async) CanExecute() bool {
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	if running {
		return false
	}
	if a.canRun != nil {
		return a.canRun()
	}
	return true
}

// IsRunning reports whether the action is currently in flight.
func (a *Async) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Execute runs the action unless the command is busy, in which case the call
// is silently dropped (nil error, action not invoked). The busy flag clears
// on success and failure alike; action errors propagate to the caller after
// the flag is cleared. The command never swallows errors.
func (a *Async) Execute(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.mu.Unlock()
	a.notify()

	err := a.action(ctx)

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.notify()

	return err
}

func (a *Async) notify() {
	if a.onChange != nil {
		a.onChange()
	}
}
