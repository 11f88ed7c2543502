package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

func newTestConsumer(t *testing.T, dlqPub reliability.DeadLetterPublisher) *Consumer {
	t.Helper()
	cfg := contracts.DefaultConfig()
	cfg.DeadLetterQueue.Enabled = true
	cfg.DeadLetterQueue.MaxDeliveryAttempts = 2
	cfg.DeadLetterQueue.Destination = "orders.dlq"

	base, err := adapter.NewBase(cfg)
	require.NoError(t, err)

	return &Consumer{
		Base:    base,
		brokers: []string{"localhost:9092"},
		topic:   "orders",
		groupID: "orders-consumer",
		reader:  &kafkago.Reader{},
		dlq:     reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(dlqPub)),
	}
}

func TestToMessageDecodesKeyHeadersAndMetadata(t *testing.T) {
	c := newTestConsumer(t, nil)

	raw := kafkago.Message{
		Topic:     "orders",
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-123"),
		Value:     []byte(`{"orderId":"123"}`),
		Headers:   []kafkago.Header{{Key: "x-trace-id", Value: []byte("abc")}},
	}

	msg := c.toMessage(raw)

	assert.Equal(t, "order-123", msg.Key)
	assert.Equal(t, []byte(`{"orderId":"123"}`), msg.Body)
	assert.Equal(t, "abc", msg.HeaderString("x-trace-id"))
	assert.Equal(t, Metadata{Partition: 2, Offset: 41, Topic: "orders"}, msg.Metadata)
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

func TestHandleFailureRoutesToDeadLetterAfterMaxAttempts(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConsumer(t, pub)

	raw := kafkago.Message{Topic: "orders", Partition: 0, Offset: 7, Value: []byte("boom")}
	calls := 0
	handler := func(ctx context.Context, msg *contracts.Message) error {
		calls++
		return errors.New("handler failed")
	}

	c.dispatch(context.Background(), raw, contracts.DefaultSubscribeOptions(), handler)
	assert.Equal(t, 2, calls, "dispatch retries the handler up to MaxDeliveryAttempts before dead-lettering")

	require.Len(t, pub.destinations, 1)
	assert.Equal(t, "orders.dlq", pub.destinations[0])
	assert.Equal(t, []byte("boom"), pub.records[0].Body)
	assert.Equal(t, "2", pub.records[0].Headers[reliability.HeaderDeliveryAttempts].String())
}

func TestMessageKeyIsStableForSameCoordinates(t *testing.T) {
	a := kafkago.Message{Topic: "orders", Partition: 3, Offset: 99}
	b := kafkago.Message{Topic: "orders", Partition: 3, Offset: 99}
	assert.Equal(t, messageKey(a), messageKey(b))

	c := kafkago.Message{Topic: "orders", Partition: 3, Offset: 100}
	assert.NotEqual(t, messageKey(a), messageKey(c))
}
