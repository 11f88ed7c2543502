package pubsub

import (
	"context"
	"testing"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

func newTestConsumer(t *testing.T, pub reliability.DeadLetterPublisher) *Consumer {
	t.Helper()
	cfg := contracts.DefaultConfig()
	cfg.DeadLetterQueue.Enabled = true
	cfg.DeadLetterQueue.MaxDeliveryAttempts = 2
	cfg.DeadLetterQueue.Destination = "orders-dlq"

	base, err := adapter.NewBase(cfg)
	require.NoError(t, err)

	return &Consumer{
		Base:      base,
		topicName: "orders",
		subName:   "orders-sub",
		dlq:       reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(pub)),
	}
}

func TestToMessageDefaultsDeliveryAttemptWhenAbsent(t *testing.T) {
	c := newTestConsumer(t, nil)

	msg := &gpubsub.Message{
		ID:          "m-1",
		Data:        []byte(`{"orderId":"123"}`),
		Attributes:  map[string]string{"x-key": "order-123", "x-trace-id": "abc"},
		PublishTime: time.Now(),
	}

	out := c.toMessage(msg)
	assert.Equal(t, "order-123", out.Key)
	assert.Equal(t, []byte(`{"orderId":"123"}`), out.Body)
	assert.Equal(t, "abc", out.HeaderString("x-trace-id"))
	assert.Equal(t, 1, out.DeliveryAttempt)
}

func TestToMessageReadsDeliveryAttemptWhenPresent(t *testing.T) {
	c := newTestConsumer(t, nil)
	attempt := 3
	msg := &gpubsub.Message{ID: "m-1", Data: []byte("x"), DeliveryAttempt: &attempt}

	out := c.toMessage(msg)
	assert.Equal(t, 3, out.DeliveryAttempt)
}

type recordingPublisher struct {
	destinations []string
	records      []reliability.DeadLetterRecord
}

func (r *recordingPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	r.destinations = append(r.destinations, destination)
	r.records = append(r.records, record)
	return nil
}
