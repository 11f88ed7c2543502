package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaybus/relaybus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffSchedule(t *testing.T) {
	b := NewExponentialBackoff(100*time.Millisecond, 10*time.Second, 2, false)

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	b := NewExponentialBackoff(100*time.Millisecond, 300*time.Millisecond, 2, false)
	assert.Equal(t, 300*time.Millisecond, b.Delay(10))
}

func TestFibonacciBackoffSchedule(t *testing.T) {
	b := NewFibonacciBackoff(100*time.Millisecond, 10*time.Second, false)

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 100*time.Millisecond, b.Delay(2))
	assert.Equal(t, 200*time.Millisecond, b.Delay(3))
	assert.Equal(t, 300*time.Millisecond, b.Delay(4))
	assert.Equal(t, 500*time.Millisecond, b.Delay(5))
}

func TestLinearBackoffSchedule(t *testing.T) {
	b := NewLinearBackoff(100*time.Millisecond, time.Second, 50*time.Millisecond, false)

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 150*time.Millisecond, b.Delay(2))
	assert.Equal(t, 200*time.Millisecond, b.Delay(3))
}

func TestRetrierExhaustsRetryableError(t *testing.T) {
	strategy := NewConstantBackoff(time.Millisecond, false)
	attempts := 0

	r := NewRetrier(strategy, WithMaxRetries(3))
	err := r.Execute(context.Background(), func() error {
		attempts++
		return contracts.NewConnectionError("dial failed", errors.New("connection refused"))
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
}

func TestRetrierStopsImmediatelyOnNonRetryable(t *testing.T) {
	strategy := NewConstantBackoff(time.Millisecond, false)
	attempts := 0

	r := NewRetrier(strategy, WithMaxRetries(3))
	err := r.Execute(context.Background(), func() error {
		attempts++
		return contracts.NewSerializationError("bad payload", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrierOnRetryReceivesOffByOneAttempt(t *testing.T) {
	strategy := NewConstantBackoff(time.Millisecond, false)
	var seen []int

	r := NewRetrier(strategy, WithMaxRetries(3), WithOnRetry(func(ev RetryEvent) {
		seen = append(seen, ev.Attempt)
	}))

	_ = r.Execute(context.Background(), func() error {
		return contracts.NewConnectionError("dial failed", errors.New("timeout"))
	})

	assert.Equal(t, []int{2, 3, 4}, seen)
}

func TestRetrierSucceedsOnFirstAttempt(t *testing.T) {
	strategy := NewConstantBackoff(time.Millisecond, false)
	r := NewRetrier(strategy, WithMaxRetries(3))

	attempts := 0
	err := r.Execute(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrierCancelledDuringSleep(t *testing.T) {
	strategy := NewConstantBackoff(100*time.Millisecond, false)
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRetrier(strategy, WithMaxRetries(5))

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Execute(ctx, func() error {
		attempts++
		return contracts.NewConnectionError("dial failed", errors.New("connection refused"))
	})

	require.Error(t, err)
	assert.Less(t, attempts, 6)
}
