package gallery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
}

func (c *countingRunner) SyncAll(ctx context.Context, trigger string) (*Result, error) {
	c.calls.Add(1)
	return &Result{Trigger: trigger}, nil
}

func TestNotifierDebounce(t *testing.T) {
	n := NewNotifier(&countingRunner{}, 10*time.Second, nil)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	assert.True(t, n.Notify(StateUpdate))

	now = now.Add(5 * time.Second)
	assert.False(t, n.Notify(StateUpdate), "changes inside the window are dropped")
	assert.True(t, n.Notify(StateTrash), "removals bypass the window")

	now = now.Add(5 * time.Second)
	assert.False(t, n.Notify(StateSync), "the removal restarted the window")

	now = now.Add(11 * time.Second)
	assert.True(t, n.Notify(StateUpdate))
}

func TestNotifierRunsPasses(t *testing.T) {
	runner := &countingRunner{}
	n := NewNotifier(runner, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.True(t, n.Notify(StateUpdate))
	require.True(t, n.Notify(StateTrash))
	require.Eventually(t, func() bool { return runner.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// recordingRunner forwards to a Syncer and reports each pass error.
type recordingRunner struct {
	syncer *Syncer
	errs   chan error
}

func (r *recordingRunner) SyncAll(ctx context.Context, trigger string) (*Result, error) {
	res, err := r.syncer.SyncAll(ctx, trigger)
	r.errs <- err
	return res, err
}

func TestNotifierDoesNotQueueBehindRunningPass(t *testing.T) {
	remote := newFakeRemote()
	remote.addFolder("f1", "Gala", "A.jpg")
	remote.entered = make(chan struct{}, 2)
	remote.release = make(chan struct{})
	runner := &recordingRunner{syncer: NewSyncer(remote, newTestCatalog(t), Options{}), errs: make(chan error, 2)}
	n := NewNotifier(runner, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.True(t, n.Notify(StateTrash))
	<-remote.entered

	require.True(t, n.Notify(StateTrash))
	assert.ErrorIs(t, <-runner.errs, ErrPassInProgress, "the second notification is skipped, not queued")

	close(remote.release)
	assert.NoError(t, <-runner.errs)
	cancel()
	<-done

	assert.Len(t, remote.entered, 0)
}
