package command

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlappingExecuteRunsActionOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	cmd := New(func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cmd.Execute(context.Background())
	}()

	require.Eventually(t, cmd.IsRunning, time.Second, time.Millisecond)

	// Second invocation while the first is pending: dropped, not queued.
	err := cmd.Execute(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCanExecuteWhileRunning(t *testing.T) {
	release := make(chan struct{})
	cmd := New(func(ctx context.Context) error {
		<-release
		return nil
	})

	assert.True(t, cmd.CanExecute())

	go func() { _ = cmd.Execute(context.Background()) }()
	require.Eventually(t, cmd.IsRunning, time.Second, time.Millisecond)

	assert.False(t, cmd.CanExecute())
	close(release)

	require.Eventually(t, cmd.CanExecute, time.Second, time.Millisecond)
}

func TestCanRunPredicate(t *testing.T) {
	allowed := false
	cmd := New(
		func(ctx context.Context) error { return nil },
		WithCanRun(func() bool { return allowed }),
	)

	assert.False(t, cmd.CanExecute())
	allowed = true
	assert.True(t, cmd.CanExecute())
}

func TestErrorsPropagateAfterBusyClears(t *testing.T) {
	wantErr := errors.New("boom")
	cmd := New(func(ctx context.Context) error { return wantErr })

	err := cmd.Execute(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, cmd.IsRunning(), "busy flag must clear on failure")
	assert.True(t, cmd.CanExecute())
}

func TestStateChangedFiresOnStartAndCompletion(t *testing.T) {
	var changes atomic.Int32
	cmd := New(
		func(ctx context.Context) error { return nil },
		WithStateChanged(func() { changes.Add(1) }),
	)

	require.NoError(t, cmd.Execute(context.Background()))
	assert.Equal(t, int32(2), changes.Load())
}
