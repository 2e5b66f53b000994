// Package schedule provides a repeating background job. Each run starts a
// full interval after the previous run finished, so runs never overlap.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/spikebot/spike/internal/metrics"
)

// ErrInvalidInterval is returned for a zero or negative interval.
var ErrInvalidInterval = errors.New("schedule: interval must be positive")

// Work is one unit of scheduled work.
type Work func(ctx context.Context) error

// Job runs Work immediately on Start and then again interval after each
// run completes.
type Job struct {
	name string
	work Work

	mu       sync.Mutex
	interval time.Duration
	started  bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewJob creates a stopped job.
func NewJob(name string, interval time.Duration, work Work) (*Job, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Job{
		name:     name,
		work:     work,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Interval returns the delay used for the next scheduling decision.
func (j *Job) Interval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

// SetInterval changes the delay. A run already waiting keeps its timer;
// the new value applies from the next run onwards.
func (j *Job) SetInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	j.mu.Lock()
	j.interval = d
	j.mu.Unlock()
	return nil
}

// Start launches the job loop. Calling it twice has no effect. The loop
// ends on Stop or when ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return
	}
	j.started = true
	j.mu.Unlock()

	go j.loop(ctx)
}

func (j *Job) loop(ctx context.Context) {
	defer close(j.done)
	for {
		j.RunOnce(ctx)

		select {
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		t := time.NewTimer(j.Interval())
		select {
		case <-t.C:
		case <-j.stop:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// RunOnce runs the work synchronously and records the outcome.
func (j *Job) RunOnce(ctx context.Context) error {
	start := time.Now()
	err := j.work(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(j.name, "error").Inc()
		slog.Error("job run failed", "job", j.name, "err", err)
		return err
	}
	metrics.JobRuns.WithLabelValues(j.name, "ok").Inc()
	slog.Debug("job run", "job", j.name, "took", time.Since(start))
	return nil
}

// Stop prevents further runs. A run in progress is allowed to finish;
// Done reports when it has.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

// Done is closed once the loop has exited. It never closes for a job that
// was not started.
func (j *Job) Done() <-chan struct{} { return j.done }
