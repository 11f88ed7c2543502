package reliability

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaybus/relaybus/contracts"
)

var (
	// Circuit breaker errors
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
	ErrUnknownState         = errors.New("circuit breaker: unknown state")

	// Retry errors
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	ErrRetryCancelled     = errors.New("retry: cancelled")
	ErrNonRetryable       = errors.New("retry: error is not retryable")

	// Dead letter errors
	ErrDLQFull           = errors.New("dlq: dead letter destination is full")
	ErrInvalidDLQMessage = errors.New("dlq: invalid dead letter message")
)

// CircuitBreakerError represents a circuit breaker error with context.
type CircuitBreakerError struct {
	State            State
	Op               string
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		retryIn := time.Until(e.NextRetry).Round(time.Second)
		return fmt.Sprintf("circuit breaker open: %s blocked (failures=%d/%d, retry in %v)",
			e.Op, e.Failures, e.FailureThreshold, retryIn)
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker half-open: %s limited", e.Op)
	default:
		return fmt.Sprintf("circuit breaker error: %s in state %v", e.Op, e.State)
	}
}

// Unwrap exposes ErrCircuitOpen so errors.Is(err, ErrCircuitOpen) works on
// a *CircuitBreakerError without callers needing to know the concrete type.
func (e *CircuitBreakerError) Unwrap() error { return ErrCircuitOpen }

// AsContractsError converts a CircuitBreakerError into the base contracts
// error type the Producer/Consumer surface returns.
func (e *CircuitBreakerError) AsContractsError() *contracts.Error {
	return contracts.NewCircuitOpenError(e.Error())
}

// RetryError represents the final error returned after exhausting every
// retry attempt.
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed: %s after %d/%d attempts over %v: %v",
		e.Op, e.Attempts, e.MaxAttempts, e.Duration.Round(time.Millisecond), e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// DLQError represents a failure to route a message to its dead-letter
// destination.
type DLQError struct {
	Destination string
	MessageID   string
	Op          string
	Err         error
	Timestamp   time.Time
}

func (e *DLQError) Error() string {
	return fmt.Sprintf("dlq error: %s failed for message %s at %q: %v",
		e.Op, e.MessageID, e.Destination, e.Err)
}

func (e *DLQError) Unwrap() error {
	return e.Err
}

// IsRetryableError applies the default retryability predicate: a base
// contracts.Error's Retryable flag wins; otherwise fall back to the
// built-in transient-failure pattern set.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrNonRetryable), errors.Is(err, ErrMaxRetriesExceeded), errors.Is(err, ErrInvalidDLQMessage):
		return false
	}

	var base *contracts.Error
	if errors.As(err, &base) {
		return base.Retryable
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return false
	}

	return matchesTransientPattern(err.Error())
}

// builtinTransientPatterns is the fallback pattern set used when no base
// contracts.Error and no custom allow-list apply.
var builtinTransientPatterns = []string{
	"connection refused", "reset", "timeout", "dns", "socket hang up",
	"rate limit", "throttle", "service unavailable", "429",
}

func matchesTransientPattern(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range builtinTransientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ErrorMetrics tracks aggregate error counters for an adapter instance.
type ErrorMetrics struct {
	mu              sync.RWMutex
	TotalErrors     int64
	RetryableErrors int64
	FatalErrors     int64
	LastErrorTime   time.Time
	ErrorsByType    map[string]int64
}

func NewErrorMetrics() *ErrorMetrics {
	return &ErrorMetrics{ErrorsByType: make(map[string]int64)}
}

func (m *ErrorMetrics) RecordError(err error, retryable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalErrors++
	m.LastErrorTime = time.Now()
	if retryable {
		m.RetryableErrors++
	} else {
		m.FatalErrors++
	}
	m.ErrorsByType[fmt.Sprintf("%T", err)]++
}

func (m *ErrorMetrics) GetSnapshot() ErrorMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typesCopy := make(map[string]int64, len(m.ErrorsByType))
	for k, v := range m.ErrorsByType {
		typesCopy[k] = v
	}
	return ErrorMetricsSnapshot{
		TotalErrors:     m.TotalErrors,
		RetryableErrors: m.RetryableErrors,
		FatalErrors:     m.FatalErrors,
		LastErrorTime:   m.LastErrorTime,
		ErrorsByType:    typesCopy,
		Timestamp:       time.Now(),
	}
}

type ErrorMetricsSnapshot struct {
	TotalErrors     int64
	RetryableErrors int64
	FatalErrors     int64
	LastErrorTime   time.Time
	ErrorsByType    map[string]int64
	Timestamp       time.Time
}
