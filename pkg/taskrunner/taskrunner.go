// Package taskrunner drives the orchestrator's run_forever loop: a single
// named recurring task, separated by a fixed interval, that responds to a
// cooperative shutdown signal between runs. Adapted from the teacher's
// pkg/task_manager, trimmed from a multi-task registry with heartbeats
// down to the one task shape the orchestrator actually needs.
package taskrunner

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State mirrors the teacher's string-state task lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Status is a point-in-time snapshot of the runner.
type Status struct {
	State       State     `json:"state"`
	RunCount    int64     `json:"run_count"`
	ErrorCount  int64     `json:"error_count"`
	LastRun     time.Time `json:"last_run"`
	LastError   string    `json:"last_error,omitempty"`
	NextRunETA  time.Time `json:"next_run_eta"`
}

// Runner executes fn repeatedly, interval apart, until Stop is called or
// ctx is cancelled.
type Runner struct {
	name     string
	interval time.Duration
	fn       func(context.Context) error
	logger   *logrus.Logger

	mu     sync.Mutex
	status Status

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Runner for the named recurring task.
func New(name string, interval time.Duration, fn func(context.Context) error, logger *logrus.Logger) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		fn:       fn,
		logger:   logger,
		status:   Status{State: StateIdle},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RunForever repeatedly invokes fn separated by interval until Stop is
// called or ctx is cancelled; the wait between runs (and the run itself,
// since fn is given ctx) is interruptible (§4.5).
func (r *Runner) RunForever(ctx context.Context) {
	defer close(r.doneCh)
	r.setState(StateRunning)

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			r.setState(StateStopped)
			return
		case <-r.stopCh:
			r.setState(StateStopped)
			return
		case <-time.After(r.interval):
		}
	}
}

// RunOnce executes fn a single time.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) runOnce(ctx context.Context) error {
	err := r.fn(ctx)

	r.mu.Lock()
	r.status.RunCount++
	r.status.LastRun = time.Now()
	r.status.NextRunETA = r.status.LastRun.Add(r.interval)
	if err != nil {
		r.status.ErrorCount++
		r.status.LastError = err.Error()
		if r.logger != nil {
			r.logger.WithError(err).WithField("task", r.name).Error("recurring task run failed")
		}
	} else {
		r.status.LastError = ""
	}
	r.mu.Unlock()

	return err
}

// Stop requests cooperative shutdown; RunForever returns once the
// in-progress wait (or run) observes it.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Wait blocks until RunForever has returned.
func (r *Runner) Wait() {
	<-r.doneCh
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.status.State = s
	r.mu.Unlock()
}

// Status returns a snapshot of the runner's counters.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
