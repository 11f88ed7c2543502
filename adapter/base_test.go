package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/relaybus/relaybus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithResilienceRetriesThenSucceeds(t *testing.T) {
	cfg := contracts.DefaultConfig()
	cfg.Retry.InitialDelayMs = 1
	cfg.Retry.MaxDelayMs = 2
	cfg.Retry.MaxRetries = 3

	b, err := NewBase(cfg)
	require.NoError(t, err)

	attempts := 0
	err = b.ExecuteWithResilience(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return contracts.NewConnectionError("dial failed", errors.New("connection refused"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithResilienceOpenCircuitSkipsRetrier(t *testing.T) {
	cfg := contracts.DefaultConfig()
	cfg.Retry.InitialDelayMs = 1
	cfg.Retry.MaxDelayMs = 2
	cfg.Retry.MaxRetries = 0
	cfg.CircuitBreaker.Enabled = true
	cfg.CircuitBreaker.FailureThreshold = 1

	b, err := NewBase(cfg)
	require.NoError(t, err)

	_ = b.ExecuteWithResilience(context.Background(), func() error {
		return contracts.NewConnectionError("dial failed", errors.New("connection refused"))
	})

	calls := 0
	err = b.ExecuteWithResilience(context.Background(), func() error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestNewBaseRejectsInvalidConfig(t *testing.T) {
	cfg := contracts.DefaultConfig()
	cfg.ConnectionTimeout = 0

	_, err := NewBase(cfg)
	require.Error(t, err)
}
