package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/relaybus/relaybus/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	destination string
	record      DeadLetterRecord
	calls       int
}

func (p *recordingPublisher) PublishDeadLetter(ctx context.Context, destination string, record DeadLetterRecord) error {
	p.destination = destination
	p.record = record
	p.calls++
	return nil
}

func TestDLQHandlerBuildsAugmentedHeaders(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewInMemoryErrorStore()
	h := NewDLQHandler(WithDeadLetterPublisher(pub), WithErrorStore(store))

	msg := contracts.NewMessage("m1", []byte(`{"orderId":"fail-me"}`), nil)
	msg.DeliveryAttempt = 2

	err := h.DeadLetter(context.Background(), "q", "q-dlq", msg, errors.New("handler always throws"))
	require.NoError(t, err)

	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, "q-dlq", pub.destination)
	assert.Equal(t, "q", pub.record.Headers[HeaderOriginalQueue].String())
	assert.Equal(t, "2", pub.record.Headers[HeaderDeliveryAttempts].String())
	assert.Equal(t, "handler always throws", pub.record.Headers[HeaderDeathReason].String())
	assert.NotEmpty(t, pub.record.Headers[HeaderDeathTime].String())

	stored, err := store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "q", stored.Queue)
}

func TestDLQHandlerWithoutCauseUsesDefaultReason(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewDLQHandler(WithDeadLetterPublisher(pub))

	msg := contracts.NewMessage("m2", []byte("body"), nil)
	require.NoError(t, h.DeadLetter(context.Background(), "q", "q-dlq", msg, nil))

	assert.Equal(t, "max retries exceeded", pub.record.Headers[HeaderDeathReason].String())
}
