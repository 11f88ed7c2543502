package contracts

import "time"

// RetryConfig configures the resilience retry engine. Defaults: three
// retries, 100ms initial delay doubling to a 10s cap, jitter on by default.
type RetryConfig struct {
	MaxRetries      int
	InitialDelayMs  int
	MaxDelayMs      int
	Multiplier      float64
	Jitter          bool
	RetryableErrors []string
}

// DefaultRetryConfig returns the documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialDelayMs: 100,
		MaxDelayMs:     10000,
		Multiplier:     2,
		Jitter:         true,
	}
}

// CircuitBreakerConfig configures the three-state breaker. Disabled by
// default; callers opt in per adapter instance.
type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold int
	FailureWindowMs  int
	ResetTimeoutMs   int
	SuccessThreshold int
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:          false,
		FailureThreshold: 5,
		FailureWindowMs:  60000,
		ResetTimeoutMs:   30000,
		SuccessThreshold: 2,
	}
}

// DeadLetterConfig configures DLQ routing on the consumer side.
type DeadLetterConfig struct {
	Enabled             bool
	Destination         string
	MaxDeliveryAttempts int
	IncludeError        bool
}

func DefaultDeadLetterConfig() DeadLetterConfig {
	return DeadLetterConfig{
		Enabled:             false,
		MaxDeliveryAttempts: 3,
		IncludeError:        true,
	}
}

// LoggingConfig toggles and levels the ambient logger an adapter is built
// with. Logger is filled in by adapter.Base at construction time, not here.
type LoggingConfig struct {
	Enabled bool
	Level   string
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Enabled: true, Level: "info"}
}

// Config is the base configuration tree every adapter accepts.
type Config struct {
	ClientID          string
	Retry             RetryConfig
	CircuitBreaker    CircuitBreakerConfig
	DeadLetterQueue   DeadLetterConfig
	Logging           LoggingConfig
	ConnectionTimeout time.Duration
	RequestTimeout    time.Duration
}

// DefaultConfig returns a Config with every sub-config at its documented
// default.
func DefaultConfig() Config {
	return Config{
		Retry:             DefaultRetryConfig(),
		CircuitBreaker:    DefaultCircuitBreakerConfig(),
		DeadLetterQueue:   DefaultDeadLetterConfig(),
		Logging:           DefaultLoggingConfig(),
		ConnectionTimeout: 10 * time.Second,
		RequestTimeout:    30 * time.Second,
	}
}

// Validate enforces the configuration invariants a ConfigurationError is
// raised for: positive timeouts, non-negative thresholds.
func (c Config) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return NewConfigurationError("retry.maxRetries must be >= 0")
	}
	if c.CircuitBreaker.Enabled && c.CircuitBreaker.FailureThreshold <= 0 {
		return NewConfigurationError("circuitBreaker.failureThreshold must be > 0 when enabled")
	}
	if c.DeadLetterQueue.Enabled && c.DeadLetterQueue.MaxDeliveryAttempts <= 0 {
		return NewConfigurationError("deadLetterQueue.maxDeliveryAttempts must be > 0 when enabled")
	}
	if c.ConnectionTimeout <= 0 {
		return NewConfigurationError("connectionTimeout must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return NewConfigurationError("requestTimeout must be > 0")
	}
	return nil
}
