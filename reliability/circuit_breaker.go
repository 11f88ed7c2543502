package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
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
	default:
		return "unknown"
	}
}

// StateChangeListener receives circuit breaker state change notifications.
type StateChangeListener interface {
	OnStateChange(from, to State, reason string)
}

// CircuitBreaker is a three-state (closed/open/half-open) breaker. Failures
// in the closed state are tracked as a rolling window of timestamps rather
// than a plain counter, so that a failure older than FailureWindow no
// longer counts toward tripping the breaker.
type CircuitBreaker struct {
	mu              sync.RWMutex
	state           State
	failureLog      []time.Time
	successes       int
	lastFailureTime time.Time
	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64

	enabled          bool
	failureThreshold int
	failureWindow    time.Duration
	successThreshold int
	resetTimeout     time.Duration
	name             string

	listeners []StateChangeListener
}

type CircuitBreakerOption func(*CircuitBreaker)

func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.failureThreshold = threshold }
}

func WithFailureWindow(window time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.failureWindow = window }
}

func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.successThreshold = threshold }
}

func WithResetTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = timeout }
}

func WithEnabled(enabled bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.enabled = enabled }
}

func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.name = name }
}

// NewCircuitBreaker builds a breaker that defaults to disabled, with
// failureThreshold 5, failureWindow 60s, resetTimeout 30s, successThreshold 2.
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		enabled:          false,
		failureThreshold: 5,
		failureWindow:    60 * time.Second,
		resetTimeout:     30 * time.Second,
		successThreshold: 2,
		name:             "default",
	}
	for _, opt := range options {
		opt(cb)
	}
	return cb
}

// Execute runs fn under breaker protection. When the breaker is disabled it
// delegates unconditionally.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.enabled {
		return fn()
	}

	cb.mu.Lock()
	cb.totalRequests++
	cb.mu.Unlock()

	if err := cb.canExecute(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed, clearing the failure log and
// success counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failureLog = nil
	cb.successes = 0
	if oldState != StateClosed {
		cb.notifyStateChange(oldState, cb.state, "manual reset")
	}
}

// Trip forces the breaker open with lastFailureTime = now.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateOpen
	cb.lastFailureTime = time.Now()
	if oldState != StateOpen {
		cb.notifyStateChange(oldState, cb.state, "manual trip")
	}
}

// canExecute implements the closed/open/half-open admission rules.
func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.resetTimeout {
			oldState := cb.state
			cb.state = StateHalfOpen
			cb.successes = 0
			cb.notifyStateChange(oldState, cb.state, "reset timeout elapsed")
			return nil
		}
		return &CircuitBreakerError{
			State:            cb.state,
			Op:               cb.name,
			Failures:         cb.currentFailureCount(),
			FailureThreshold: cb.failureThreshold,
			LastFailure:      cb.lastFailureTime,
			NextRetry:        cb.lastFailureTime.Add(cb.resetTimeout),
		}

	case StateHalfOpen:
		return nil

	default:
		return ErrUnknownState
	}
}

// recordResult applies a completed call's outcome to the failure log /
// success counter and performs any resulting state transition.
func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.totalFailures++
		now := time.Now()
		cb.lastFailureTime = now
		oldState := cb.state

		switch cb.state {
		case StateClosed:
			cb.failureLog = append(cb.pruneFailureLog(now), now)
			if len(cb.failureLog) >= cb.failureThreshold {
				cb.state = StateOpen
				cb.notifyStateChange(oldState, cb.state,
					fmt.Sprintf("failure threshold reached (%d/%d in window)", len(cb.failureLog), cb.failureThreshold))
			}

		case StateHalfOpen:
			cb.state = StateOpen
			cb.successes = 0
			cb.failureLog = []time.Time{now}
			cb.notifyStateChange(oldState, cb.state, "failure in half-open state")
		}
		return
	}

	cb.totalSuccesses++
	oldState := cb.state

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failureLog = nil
			cb.successes = 0
			cb.notifyStateChange(oldState, cb.state,
				fmt.Sprintf("success threshold reached (%d/%d)", cb.successThreshold, cb.successThreshold))
		}

	case StateClosed:
		cb.failureLog = cb.pruneFailureLog(time.Now())
	}
}

// pruneFailureLog drops entries older than failureWindow relative to now.
func (cb *CircuitBreaker) pruneFailureLog(now time.Time) []time.Time {
	if len(cb.failureLog) == 0 {
		return cb.failureLog
	}
	cutoff := now.Add(-cb.failureWindow)
	kept := cb.failureLog[:0:0]
	for _, t := range cb.failureLog {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (cb *CircuitBreaker) currentFailureCount() int {
	return len(cb.pruneFailureLog(time.Now()))
}

func (cb *CircuitBreaker) AddListener(listener StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, listener)
}

func (cb *CircuitBreaker) RemoveListener(listener StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for i, l := range cb.listeners {
		if l == listener {
			cb.listeners = append(cb.listeners[:i], cb.listeners[i+1:]...)
			break
		}
	}
}

func (cb *CircuitBreaker) notifyStateChange(from, to State, reason string) {
	listeners := make([]StateChangeListener, len(cb.listeners))
	copy(listeners, cb.listeners)
	for _, listener := range listeners {
		go listener.OnStateChange(from, to, reason)
	}
}

// GetMetrics returns a snapshot: current state, current-window failures,
// half-open success streak, last-failure timestamp, total requests, total
// failures.
func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerMetrics{
		Name:             cb.name,
		State:            cb.state,
		TotalRequests:    cb.totalRequests,
		TotalFailures:    cb.totalFailures,
		TotalSuccesses:   cb.totalSuccesses,
		CurrentFailures:  len(cb.failureLog),
		CurrentSuccesses: cb.successes,
		LastFailureTime:  cb.lastFailureTime,
		Timestamp:        time.Now(),
	}
}

type CircuitBreakerMetrics struct {
	Name             string
	State            State
	TotalRequests    int64
	TotalFailures    int64
	TotalSuccesses   int64
	CurrentFailures  int
	CurrentSuccesses int
	LastFailureTime  time.Time
	Timestamp        time.Time
}
