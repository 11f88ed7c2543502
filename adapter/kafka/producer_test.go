package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

func TestPublishFailsFastWhenNotConnected(t *testing.T) {
	base, err := adapter.NewBase(contracts.DefaultConfig())
	require.NoError(t, err)

	p := &Producer{Base: base, brokers: []string{"localhost:9092"}, topic: "orders"}

	_, err = p.Publish(t.Context(), []byte("hello"))
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*contracts.Error))
}

func TestHealthCheckReflectsConnectionState(t *testing.T) {
	base, err := adapter.NewBase(contracts.DefaultConfig())
	require.NoError(t, err)

	p := &Producer{Base: base, brokers: []string{"localhost:9092"}, topic: "orders"}

	health, err := p.HealthCheck(t.Context())
	require.NoError(t, err)
	assert.False(t, health.Healthy)

	p.SetConnected(true)
	health, err = p.HealthCheck(t.Context())
	require.NoError(t, err)
	assert.True(t, health.Healthy)
}
