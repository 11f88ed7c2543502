// Package contracts defines the broker-agnostic surface every adapter implements:
// the message envelope, the error taxonomy, the producer/consumer interfaces and
// the configuration schema shared by all of them.
package contracts

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable, machine-comparable failure category.
type ErrorCode string

const (
	CodeConnection       ErrorCode = "CONNECTION_ERROR"
	CodeSerialization    ErrorCode = "SERIALIZATION_ERROR"
	CodePublish          ErrorCode = "PUBLISH_ERROR"
	CodeConsume          ErrorCode = "CONSUME_ERROR"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeConfiguration    ErrorCode = "CONFIGURATION_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT_ERROR"
	CodeSchemaValidation ErrorCode = "SCHEMA_VALIDATION_ERROR"
	CodeNotImplemented   ErrorCode = "NOT_IMPLEMENTED"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Error is the single base error type every adapter and middleware returns.
// Specialized kinds are constructed through the New*Error helpers below; they
// all carry this same shape so callers can branch on Code rather than type.
type Error struct {
	Message   string
	Code      ErrorCode
	Retryable bool
	Cause     error
	Details   map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause chain to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, retryable bool, message string, cause error) *Error {
	return &Error{Message: message, Code: code, Retryable: retryable, Cause: cause}
}

func NewConnectionError(message string, cause error) *Error {
	return newError(CodeConnection, true, message, cause)
}

func NewSerializationError(message string, cause error) *Error {
	return newError(CodeSerialization, false, message, cause)
}

func NewPublishError(message string, cause error) *Error {
	return newError(CodePublish, true, message, cause)
}

func NewConsumeError(message string, cause error) *Error {
	return newError(CodeConsume, true, message, cause)
}

func NewCircuitOpenError(message string) *Error {
	return newError(CodeCircuitOpen, false, message, nil)
}

func NewConfigurationError(message string) *Error {
	return newError(CodeConfiguration, false, message, nil)
}

func NewTimeoutError(message string, cause error) *Error {
	return newError(CodeTimeout, true, message, cause)
}

func NewSchemaValidationError(message string, cause error) *Error {
	return newError(CodeSchemaValidation, false, message, cause)
}

func NewNotImplementedError(operation string) *Error {
	return newError(CodeNotImplemented, false, operation+" is not implemented by this backend", nil)
}

// FromAny always succeeds in producing an *Error from an arbitrary recovered
// value, preserving the original as Cause when it already is an error.
func FromAny(v any) *Error {
	if v == nil {
		return newError(CodeUnknown, false, "unknown error", nil)
	}
	if e, ok := v.(*Error); ok {
		return e
	}
	if err, ok := v.(error); ok {
		return newError(CodeUnknown, false, err.Error(), err)
	}
	return newError(CodeUnknown, false, fmt.Sprintf("%v", v), nil)
}

// IsRetryable reports whether err carries a retryable base error anywhere in
// its cause chain, defaulting to false when none is found.
func IsRetryable(err error) bool {
	var base *Error
	if errors.As(err, &base) {
		return base.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err's cause chain, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var base *Error
	if errors.As(err, &base) {
		return base.Code
	}
	return CodeUnknown
}
