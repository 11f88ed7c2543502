package natsjetstream

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

	p := &Producer{Base: base, stream: "ORDERS", subject: "orders.created"}

	_, err = p.Publish(t.Context(), []byte("hello"))
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*contracts.Error))
}

func TestIdFromAckFormatsStreamAndSequence(t *testing.T) {
	assert.Equal(t, "ORDERS-42", idFromAck("ORDERS", 42))
}
