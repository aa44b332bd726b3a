// Package resilience keeps a voice session usable when a transcription or
// recognition backend misbehaves.
//
// Every backend sits behind a [CircuitBreaker]. A [FallbackGroup] walks an
// ordered list of backends of one kind and skips those whose breaker is open.
// [TranscriberFallback], [STTFallback] and [LLMFallback] expose a group as the
// corresponding provider interface, so the rest of the program never sees more
// than one backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// refuses calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down has
	// passed.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successful probes close the breaker; a failed one opens it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name identifies the backend in logs and transition callbacks.
	Name string

	// MaxFailures is the number of back-to-back failures that open a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is the cool-down an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent probes admitted in the
	// half-open state and the number of successes needed to close. Default: 3.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend.
	// Default: every error except context cancellation.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker is a three-state breaker around a single backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int // admitted and not yet settled
	successes int // successful probes since half-open
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// countsAsFailure ignores cancellation: the caller gave up, which says nothing
// about the backend.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Name returns the configured backend name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open, and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes, cb.successes = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.probes++
		probe = true
	}
	to := cb.state
	cb.mu.Unlock()

	cb.changed(from, to)
	return probe, nil
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	failed := err != nil && cb.cfg.IsFailure(err)
	ignored := err != nil && !failed

	switch {
	case probe && cb.state != StateHalfOpen:
		// Another probe already decided the outcome.
	case probe && ignored:
		cb.probes--
	case probe && failed:
		cb.trip()
	case probe:
		cb.probes--
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
		}
	case failed:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.trip()
		}
	case err == nil:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()

	cb.changed(from, to)
}

// trip opens the breaker. cb.mu must be held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
	cb.probes, cb.successes = 0, 0
}

func (cb *CircuitBreaker) changed(from, to State) {
	if from == to {
		return
	}
	slog.Info("resilience: breaker state changed", "name", cb.cfg.Name, "from", from, "to", to)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State reports the breaker state. An open breaker whose cool-down has passed
// reports [StateHalfOpen] even though the transition only happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}
