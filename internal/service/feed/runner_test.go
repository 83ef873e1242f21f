package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockingRun(started chan<- string) entity.RunFunc {
	return func(ctx context.Context, runID string) error {
		started <- runID
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestRunner_StartUnknownComponent(t *testing.T) {
	runner := NewRunner(context.Background(), time.Second)

	_, err := runner.Start(entity.ComponentFeedReceiver)
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestRunner_TerminateCancelsRun(t *testing.T) {
	runner := NewRunner(context.Background(), time.Second)
	started := make(chan string, 1)
	runner.Register(entity.ComponentFeedReceiver, blockingRun(started))

	runID, err := runner.Start(entity.ComponentFeedReceiver)
	require.NoError(t, err)
	assert.Equal(t, runID, <-started)
	assert.True(t, runner.IsRunning(runID))

	require.NoError(t, runner.Terminate(runID))
	assert.False(t, runner.IsRunning(runID))
}

func TestRunner_TerminateIsIdempotent(t *testing.T) {
	runner := NewRunner(context.Background(), time.Second)
	started := make(chan string, 1)
	runner.Register(entity.ComponentFeedReceiver, blockingRun(started))

	runID, err := runner.Start(entity.ComponentFeedReceiver)
	require.NoError(t, err)
	<-started

	require.NoError(t, runner.Terminate(runID))
	assert.NoError(t, runner.Terminate(runID), "terminating a finished run is a no-op")
	assert.NoError(t, runner.Terminate("never-started"), "terminating an unknown run is a no-op")
}

func TestRunner_RunThatExitsOnItsOwn(t *testing.T) {
	runner := NewRunner(context.Background(), time.Second)
	runner.Register(entity.ComponentFeedReceiver, func(ctx context.Context, runID string) error {
		return errors.New("upstream gone")
	})

	runID, err := runner.Start(entity.ComponentFeedReceiver)
	require.NoError(t, err)

	requireEventually(t, func() bool {
		return !runner.IsRunning(runID)
	})
	assert.NoError(t, runner.Terminate(runID))
}

func TestRunner_TerminateTimesOutOnStuckRun(t *testing.T) {
	runner := NewRunner(context.Background(), 50*time.Millisecond)
	release := make(chan struct{})
	runner.Register(entity.ComponentFeedReceiver, func(ctx context.Context, runID string) error {
		<-release
		return nil
	})

	runID, err := runner.Start(entity.ComponentFeedReceiver)
	require.NoError(t, err)

	assert.ErrorIs(t, runner.Terminate(runID), ErrTerminateTimeout)

	close(release)
	requireEventually(t, func() bool {
		return !runner.IsRunning(runID)
	})
}

func TestRunner_RecoversPanickingRun(t *testing.T) {
	runner := NewRunner(context.Background(), time.Second)
	runner.Register(entity.ComponentFeedDistributor, func(ctx context.Context, runID string) error {
		panic("boom")
	})

	runID, err := runner.Start(entity.ComponentFeedDistributor)
	require.NoError(t, err)

	requireEventually(t, func() bool {
		return !runner.IsRunning(runID)
	})
}

func TestRunner_ShutdownStopsEveryRun(t *testing.T) {
	runner := NewRunner(context.Background(), time.Second)
	started := make(chan string, 2)
	runner.Register(entity.ComponentFeedReceiver, blockingRun(started))
	runner.Register(entity.ComponentFeedDistributor, blockingRun(started))

	first, err := runner.Start(entity.ComponentFeedReceiver)
	require.NoError(t, err)
	second, err := runner.Start(entity.ComponentFeedDistributor)
	require.NoError(t, err)
	<-started
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	assert.False(t, runner.IsRunning(first))
	assert.False(t, runner.IsRunning(second))
}

func TestRunner_StartAfterParentDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(ctx, time.Second)
	runner.Register(entity.ComponentFeedReceiver, blockingRun(make(chan string, 1)))
	cancel()

	_, err := runner.Start(entity.ComponentFeedReceiver)
	assert.ErrorIs(t, err, context.Canceled)
}
