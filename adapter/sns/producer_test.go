package sns

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

	p := &Producer{Base: base, topicARN: "arn:aws:sns:us-east-1:000000000000:orders"}

	_, err = p.Publish(t.Context(), []byte("hello"))
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*contracts.Error))
}

func TestHealthCheckReportsDisconnected(t *testing.T) {
	base, err := adapter.NewBase(contracts.DefaultConfig())
	require.NoError(t, err)

	p := &Producer{Base: base, topicARN: "arn:aws:sns:us-east-1:000000000000:orders"}

	health, err := p.HealthCheck(t.Context())
	require.NoError(t, err)
	assert.False(t, health.Healthy)
}
