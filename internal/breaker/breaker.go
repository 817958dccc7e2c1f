// Package breaker implements per-executor failure isolation.
//
// Unlike consecutive-count breakers, tripping is driven by a rolling
// window of failure timestamps, and state is evaluated lazily as a pure
// function of (state, failure timestamps, now) at call time. There are no
// background timers: an open circuit moves to half-open the first time it
// is consulted after the open timeout elapses.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the circuit state for one executor.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	return fmt.Sprintf("state(%d)", int(s))
}

// OpenError is returned by Allow when the circuit rejects a call without
// invoking the executor.
type OpenError struct {
	Executor   string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for executor %q (retry after %s)", e.Executor, e.RetryAfter)
}

// Config tunes the state machine.
type Config struct {
	FailureThreshold int           // Failures within Window that trip the circuit (default 5)
	Window           time.Duration // Rolling failure window (default 60s)
	OpenTimeout      time.Duration // Time spent open before a half-open trial (default 30s)
	SuccessThreshold int           // Consecutive half-open successes that close the circuit (default 2)
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}

// Snapshot is a point-in-time diagnostic view of one circuit.
type Snapshot struct {
	Executor             string
	State                State
	FailureTimes         []time.Time // Window contents, oldest first
	ConsecutiveSuccesses int
	ChangedAt            time.Time // Last state transition
}

type circuit struct {
	state     State
	failures  []time.Time
	successes int
	changedAt time.Time
}

// Registry holds one circuit per executor, created closed on first use.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	circuits map[string]*circuit

	// onStateChange is invoked on every transition while the registry
	// lock is held: it must not call back into the registry. failures
	// is the window occupancy at transition time.
	onStateChange func(executor string, from, to State, failures int, at time.Time)
}

// NewRegistry creates a registry with the given configuration.
// onStateChange may be nil.
func NewRegistry(cfg Config, onStateChange func(executor string, from, to State, failures int, at time.Time)) *Registry {
	return &Registry{
		cfg:           cfg.withDefaults(),
		circuits:      make(map[string]*circuit),
		onStateChange: onStateChange,
	}
}

// Allow reports whether a call to the executor may proceed at time now.
// Returns an *OpenError while the circuit is open. The open->half-open
// transition happens here, lazily, once the open timeout has elapsed.
func (r *Registry) Allow(executor string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.evaluate(executor, now)
	if c.state == StateOpen {
		retryAfter := r.cfg.OpenTimeout - now.Sub(c.changedAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &OpenError{Executor: executor, RetryAfter: retryAfter}
	}
	return nil
}

// RecordSuccess records a successful executor call.
func (r *Registry) RecordSuccess(executor string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.evaluate(executor, now)
	switch c.state {
	case StateHalfOpen:
		c.successes++
		if c.successes >= r.cfg.SuccessThreshold {
			r.transition(executor, c, StateClosed, now)
			c.failures = nil
			c.successes = 0
		}
	case StateClosed:
		// Window pruning in evaluate already decayed old failures.
	}
}

// RecordFailure records a failed executor call.
func (r *Registry) RecordFailure(executor string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.evaluate(executor, now)
	switch c.state {
	case StateClosed:
		c.failures = append(c.failures, now)
		c.failures = prune(c.failures, now.Add(-r.cfg.Window))
		if len(c.failures) >= r.cfg.FailureThreshold {
			r.transition(executor, c, StateOpen, now)
		}
	case StateHalfOpen:
		// Any failure during the trial reopens the circuit.
		c.failures = append(c.failures, now)
		r.transition(executor, c, StateOpen, now)
	case StateOpen:
		c.failures = append(c.failures, now)
	}
}

// State returns the circuit state for the executor at time now.
func (r *Registry) State(executor string, now time.Time) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluate(executor, now).state
}

// Snapshot returns a diagnostic view of the circuit at time now.
func (r *Registry) Snapshot(executor string, now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.evaluate(executor, now)
	return Snapshot{
		Executor:             executor,
		State:                c.state,
		FailureTimes:         append([]time.Time(nil), c.failures...),
		ConsecutiveSuccesses: c.successes,
		ChangedAt:            c.changedAt,
	}
}

// evaluate fetches (or creates) the circuit and applies time-driven
// transitions. Caller holds r.mu.
func (r *Registry) evaluate(executor string, now time.Time) *circuit {
	c, exists := r.circuits[executor]
	if !exists {
		c = &circuit{state: StateClosed, changedAt: now}
		r.circuits[executor] = c
	}

	switch c.state {
	case StateOpen:
		if now.Sub(c.changedAt) >= r.cfg.OpenTimeout {
			r.transition(executor, c, StateHalfOpen, now)
			c.successes = 0
		}
	case StateClosed:
		c.failures = prune(c.failures, now.Add(-r.cfg.Window))
	}
	return c
}

// transition changes state and fires the callback. Caller holds r.mu.
func (r *Registry) transition(executor string, c *circuit, to State, now time.Time) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.changedAt = now
	if r.onStateChange != nil {
		r.onStateChange(executor, from, to, len(c.failures), now)
	}
}

// prune drops timestamps at or before cutoff, keeping order.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
