package azureservicebus

import (
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

func newTestConsumer(t *testing.T) *Consumer {
	t.Helper()
	base, err := adapter.NewBase(contracts.DefaultConfig())
	require.NoError(t, err)
	return &Consumer{Base: base, queueName: "orders"}
}

func TestToMessageMapsApplicationPropertiesAndDeliveryCount(t *testing.T) {
	c := newTestConsumer(t)

	enqueued := time.Now()
	session := "order-123"
	seq := int64(42)
	raw := &azservicebus.ReceivedMessage{
		MessageID:             "m-1",
		Body:                  []byte(`{"orderId":"123"}`),
		DeliveryCount:         2,
		EnqueuedTime:          &enqueued,
		SessionID:             &session,
		SequenceNumber:        &seq,
		ApplicationProperties: map[string]any{"x-trace-id": "abc"},
	}

	msg := c.toMessage(raw)
	assert.Equal(t, []byte(`{"orderId":"123"}`), msg.Body)
	assert.Equal(t, "abc", msg.HeaderString("x-trace-id"))
	assert.Equal(t, 2, msg.DeliveryAttempt)
	assert.Equal(t, "m-1", msg.Key)

	meta, ok := msg.Metadata.(Metadata)
	require.True(t, ok)
	assert.Equal(t, "orders", meta.Queue)
	assert.Equal(t, "order-123", meta.SessionID)
	assert.Equal(t, int64(42), meta.SequenceNumber)
}
