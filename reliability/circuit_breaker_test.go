package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerDisabledAlwaysDelegates(t *testing.T) {
	cb := NewCircuitBreaker(WithEnabled(false), WithFailureThreshold(1))

	err := cb.Execute(context.Background(), func() error { return errors.New("boom") })
	assert.Error(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerOpensAfterThresholdWithinWindow(t *testing.T) {
	cb := NewCircuitBreaker(
		WithEnabled(true),
		WithFailureThreshold(3),
		WithFailureWindow(time.Minute),
		WithResetTimeout(50*time.Millisecond),
	)

	fail := func() error { return errors.New("downstream unavailable") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), fail)
		assert.Error(t, err)
	}
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)

	var cbErr *CircuitBreakerError
	require.True(t, errors.As(err, &cbErr))
}

func TestCircuitBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker(
		WithEnabled(true),
		WithFailureThreshold(1),
		WithFailureWindow(time.Minute),
		WithResetTimeout(20*time.Millisecond),
		WithSuccessThreshold(1),
	)

	_ = cb.Execute(context.Background(), func() error { return errors.New("fail") })
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(30 * time.Millisecond)

	called := false
	err := cb.Execute(context.Background(), func() error { called = true; return nil })
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerHalfOpenFailureReturnsToOpen(t *testing.T) {
	cb := NewCircuitBreaker(
		WithEnabled(true),
		WithFailureThreshold(1),
		WithFailureWindow(time.Minute),
		WithResetTimeout(10*time.Millisecond),
		WithSuccessThreshold(2),
	)

	_ = cb.Execute(context.Background(), func() error { return errors.New("fail") })
	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreakerFailuresOutsideWindowDontCount(t *testing.T) {
	cb := NewCircuitBreaker(
		WithEnabled(true),
		WithFailureThreshold(2),
		WithFailureWindow(20*time.Millisecond),
		WithResetTimeout(time.Minute),
	)

	_ = cb.Execute(context.Background(), func() error { return errors.New("fail 1") })
	time.Sleep(30 * time.Millisecond)
	err := cb.Execute(context.Background(), func() error { return errors.New("fail 2") })

	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerResetAndTrip(t *testing.T) {
	cb := NewCircuitBreaker(WithEnabled(true), WithFailureThreshold(1))

	cb.Trip()
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetMetrics().CurrentFailures)
}
