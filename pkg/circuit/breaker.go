// Package circuit implements per-source failure isolation for the
// orchestrator's fetch fan-out: a source that fails repeatedly is
// temporarily skipped, then re-probed after a cooldown, adapted directly
// from the teacher's three-phase lock discipline (pre-check, unlocked
// execution, post-registration).
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the circuit breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures one source's breaker.
type Config struct {
	Name             string        `yaml:"name"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// Stats is a point-in-time snapshot of a breaker's counters.
type Stats struct {
	State         State     `json:"state"`
	Failures      int64     `json:"failures"`
	Successes     int64     `json:"successes"`
	Requests      int64     `json:"requests"`
	LastFailure   time.Time `json:"last_failure"`
	LastSuccess   time.Time `json:"last_success"`
	NextRetryTime time.Time `json:"next_retry_time"`
}

// Breaker isolates one source's fetch failures from the rest of the
// orchestrator's cycle.
type Breaker struct {
	config Config
	logger *logrus.Logger

	mu                sync.Mutex
	state             State
	failures          int64
	successes         int64
	requests          int64
	lastFailure       time.Time
	lastSuccess       time.Time
	nextRetryTime     time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStart     time.Time
}

// New constructs a Breaker with defaulted thresholds.
func New(config Config, logger *logrus.Logger) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 10
	}

	return &Breaker{config: config, logger: logger, state: StateClosed}
}

// Execute runs fn under the breaker's protection. If the circuit is open
// and the cooldown has not elapsed, fn is not called and an error is
// returned immediately so the orchestrator can skip this source for the
// cycle without aborting any other source's fetch.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.requests++

	if b.state == StateOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setState(StateHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStart = time.Now()
	}

	if b.state == StateHalfOpen {
		if time.Since(b.halfOpenStart) > b.config.Timeout*2 {
			b.trip()
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open timeout", b.config.Name)
		}
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is half-open (max calls reached)", b.config.Name)
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure(err)
		if b.shouldTrip() {
			b.trip()
		}
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) shouldTrip() bool {
	return b.state == StateClosed && b.failures >= int64(b.config.FailureThreshold)
}

func (b *Breaker) trip() {
	if b.state == StateOpen {
		return
	}
	b.setState(StateOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"breaker":         b.config.Name,
			"failures":        b.failures,
			"next_retry_time": b.nextRetryTime,
		}).Warn("circuit breaker opened")
	}
}

func (b *Breaker) onFailure(err error) {
	b.failures++
	b.lastFailure = time.Now()
	if b.state == StateHalfOpen {
		b.trip()
	}
}

func (b *Breaker) onSuccess() {
	b.successes++
	b.lastSuccess = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.resetCounters()
		}
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
}

func (b *Breaker) resetCounters() {
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}
}

func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"breaker":   b.config.Name,
			"old_state": old,
			"new_state": newState,
		}).Info("circuit breaker state changed")
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanExecute reports whether a call would currently be let through.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Now().After(b.nextRetryTime)
	case StateHalfOpen:
		return b.halfOpenCalls < b.config.HalfOpenMaxCalls
	default:
		return false
	}
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}
