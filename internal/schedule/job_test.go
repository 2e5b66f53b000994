package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob_RejectsBadInterval(t *testing.T) {
	_, err := NewJob("x", 0, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidInterval)

	j, err := NewJob("x", time.Second, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.ErrorIs(t, j.SetInterval(-time.Second), ErrInvalidInterval)
	assert.Equal(t, time.Second, j.Interval())
}

func TestJob_RunsImmediatelyThenRepeats(t *testing.T) {
	var runs atomic.Int32
	j, err := NewJob("tick", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	j.Start(context.Background())
	j.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	j.Stop()
	<-j.Done()
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after stop")
}

func TestJob_StopLetsInFlightRunFinish(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var finished atomic.Bool
	j, err := NewJob("slow", time.Millisecond, func(context.Context) error {
		close(entered)
		<-release
		finished.Store(true)
		return nil
	})
	require.NoError(t, err)

	j.Start(context.Background())
	<-entered
	j.Stop()

	select {
	case <-j.Done():
		t.Fatal("loop exited before in-flight run finished")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	<-j.Done()
	assert.True(t, finished.Load())
}

func TestJob_IntervalMeasuredFromRunEnd(t *testing.T) {
	var starts []time.Time
	done := make(chan struct{})
	j, err := NewJob("spaced", 20*time.Millisecond, func(context.Context) error {
		starts = append(starts, time.Now())
		if len(starts) == 1 {
			time.Sleep(30 * time.Millisecond)
		}
		if len(starts) == 2 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	j.Start(context.Background())
	<-done
	j.Stop()
	<-j.Done()

	require.GreaterOrEqual(t, len(starts), 2)
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 50*time.Millisecond)
}

func TestJob_SetIntervalAppliesToNextRun(t *testing.T) {
	var runs atomic.Int32
	j, err := NewJob("slowdown", time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	j.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	require.NoError(t, j.SetInterval(time.Hour))

	time.Sleep(20 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())

	j.Stop()
	<-j.Done()
}

func TestJob_ErrorsDoNotStopTheLoop(t *testing.T) {
	var runs atomic.Int32
	j, err := NewJob("flaky", time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	})
	require.NoError(t, err)

	assert.Error(t, j.RunOnce(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	j.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-j.Done()
}
