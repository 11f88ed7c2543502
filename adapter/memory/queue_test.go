package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaybus/relaybus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIsolatedRegistry() *Registry {
	return NewRegistry()
}

func TestBasicRoundTripPreservesOrderAndClearsInFlight(t *testing.T) {
	registry := newIsolatedRegistry()
	cfg := contracts.DefaultConfig()

	producer, err := NewProducer("q", cfg, WithRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, producer.Connect(context.Background()))

	_, err = producer.Publish(context.Background(), []byte(`{"orderId":"123"}`))
	require.NoError(t, err)
	_, err = producer.Publish(context.Background(), []byte(`{"orderId":"456"}`))
	require.NoError(t, err)

	consumer, err := NewConsumer("q", cfg, WithConsumerRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, consumer.Connect(context.Background()))

	var mu sync.Mutex
	var received []string

	err = consumer.Subscribe(context.Background(), func(ctx context.Context, msg *contracts.Message) error {
		mu.Lock()
		received = append(received, string(msg.Body))
		mu.Unlock()
		return msg.Ack(ctx)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, consumer.Disconnect(context.Background()))

	mu.Lock()
	assert.Equal(t, []string{`{"orderId":"123"}`, `{"orderId":"456"}`}, received)
	mu.Unlock()

	assert.Equal(t, 0, consumer.queue.ProcessingCount())
}

func TestNackRequeuesHeadUntilHandlerSucceeds(t *testing.T) {
	registry := newIsolatedRegistry()
	cfg := contracts.DefaultConfig()

	producer, err := NewProducer("q", cfg, WithRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, producer.Connect(context.Background()))
	_, err = producer.Publish(context.Background(), []byte("payload"))
	require.NoError(t, err)

	consumer, err := NewConsumer("q", cfg, WithConsumerRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, consumer.Connect(context.Background()))

	var mu sync.Mutex
	invocations := 0

	err = consumer.Subscribe(context.Background(), func(ctx context.Context, msg *contracts.Message) error {
		mu.Lock()
		invocations++
		n := invocations
		mu.Unlock()

		if n == 1 {
			return msg.Nack(ctx, true)
		}
		return msg.Ack(ctx)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return invocations >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, consumer.Disconnect(context.Background()))

	mu.Lock()
	assert.GreaterOrEqual(t, invocations, 2)
	mu.Unlock()
	assert.Equal(t, 0, consumer.queue.Size())
	assert.Equal(t, 0, consumer.queue.ProcessingCount())
}

func TestExceedingMaxDeliveryAttemptsRoutesToDeadLetterDestination(t *testing.T) {
	registry := newIsolatedRegistry()
	cfg := contracts.DefaultConfig()
	cfg.DeadLetterQueue.Enabled = true
	cfg.DeadLetterQueue.Destination = "q-dlq"
	cfg.DeadLetterQueue.MaxDeliveryAttempts = 2

	producer, err := NewProducer("q", cfg, WithRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, producer.Connect(context.Background()))
	_, err = producer.Publish(context.Background(), []byte("poison"))
	require.NoError(t, err)

	consumer, err := NewConsumer("q", cfg, WithConsumerRegistry(registry))
	require.NoError(t, err)
	require.NoError(t, consumer.Connect(context.Background()))

	boom := errors.New("handler exploded")
	err = consumer.Subscribe(context.Background(), func(ctx context.Context, msg *contracts.Message) error {
		return boom
	})
	require.NoError(t, err)

	dlq := registry.GetOrCreate("q-dlq", QueueOptions{})
	require.Eventually(t, func() bool {
		return dlq.Size() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, consumer.Disconnect(context.Background()))

	record := dlq.Peek()
	require.NotNil(t, record)
	assert.Equal(t, "q", record.headers["x-original-queue"])
	assert.Equal(t, "2", record.headers["x-delivery-attempts"])
}

func TestOverflowDropsOldestMessage(t *testing.T) {
	registry := newIsolatedRegistry()
	queue := registry.GetOrCreate("bounded", QueueOptions{MaxMessages: 3})

	for n := 0; n < 5; n++ {
		queue.Enqueue([]byte{byte(n)}, "", nil)
	}

	assert.Equal(t, 3, queue.Size())

	first := queue.Dequeue()
	require.NotNil(t, first)
	assert.Equal(t, []byte{2}, first.body)
}
