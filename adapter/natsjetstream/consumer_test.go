package natsjetstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// fakeMsg implements jetstream.Msg against a fixed payload, enough to
// drive toMessage and handleFailure without a running NATS server.
type fakeMsg struct {
	subject string
	data    []byte
	meta    *jetstream.MsgMetadata
	termed  bool
	naked   bool
}

func (f *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return f.meta, nil }
func (f *fakeMsg) Data() []byte                              { return f.data }
func (f *fakeMsg) Headers() nats.Header                      { return nil }
func (f *fakeMsg) Subject() string                           { return f.subject }
func (f *fakeMsg) Reply() string                             { return "" }
func (f *fakeMsg) Ack() error                                { return nil }
func (f *fakeMsg) DoubleAck(ctx context.Context) error       { return nil }
func (f *fakeMsg) Nak() error                                { f.naked = true; return nil }
func (f *fakeMsg) NakWithDelay(delay time.Duration) error    { f.naked = true; return nil }
func (f *fakeMsg) InProgress() error                         { return nil }
func (f *fakeMsg) Term() error                               { f.termed = true; return nil }
func (f *fakeMsg) TermWithReason(reason string) error        { f.termed = true; return nil }

func newTestConsumer(t *testing.T, pub reliability.DeadLetterPublisher) *Consumer {
	t.Helper()
	cfg := contracts.DefaultConfig()
	cfg.DeadLetterQueue.Enabled = true
	cfg.DeadLetterQueue.MaxDeliveryAttempts = 2
	cfg.DeadLetterQueue.Destination = "orders.dlq"

	base, err := adapter.NewBase(cfg)
	require.NoError(t, err)

	return &Consumer{
		Base:    base,
		stream:  "ORDERS",
		subject: "orders.created",
		durable: "orders-consumer",
		dlq:     reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(pub)),
	}
}

func TestToMessageDecodesEnvelopeAndMetadata(t *testing.T) {
	c := newTestConsumer(t, nil)

	payload, err := encodeEnvelope([]byte(`{"orderId":"123"}`), "order-123", map[string]string{"x-trace-id": "abc"})
	require.NoError(t, err)

	msg := &fakeMsg{
		subject: "orders.created",
		data:    payload,
		meta:    &jetstream.MsgMetadata{NumDelivered: 1, Sequence: jetstream.SequencePair{Stream: 10, Consumer: 3}},
	}

	out := c.toMessage(msg)
	assert.Equal(t, "order-123", out.Key)
	assert.Equal(t, []byte(`{"orderId":"123"}`), out.Body)
	assert.Equal(t, "abc", out.HeaderString("x-trace-id"))
	assert.Equal(t, 1, out.DeliveryAttempt)
	assert.Equal(t, Metadata{Stream: "ORDERS", Consumer: "orders-consumer", Subject: "orders.created", StreamSequence: 10, ConsumerSeq: 3, NumDelivered: 1}, out.Metadata)
}

func TestHandleFailureTermsAndDeadLettersAfterMaxAttempts(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConsumer(t, pub)

	payload, err := encodeEnvelope([]byte("boom"), "", nil)
	require.NoError(t, err)

	msg1 := &fakeMsg{subject: "orders.created", data: payload, meta: &jetstream.MsgMetadata{NumDelivered: 1}}
	out1 := c.toMessage(msg1)
	c.handleFailure(context.Background(), msg1, out1, errors.New("handler failed"))
	assert.True(t, msg1.naked)
	assert.False(t, msg1.termed)
	assert.Empty(t, pub.destinations)

	msg2 := &fakeMsg{subject: "orders.created", data: payload, meta: &jetstream.MsgMetadata{NumDelivered: 2}}
	out2 := c.toMessage(msg2)
	c.handleFailure(context.Background(), msg2, out2, errors.New("handler failed"))
	assert.True(t, msg2.termed)
	require.Len(t, pub.destinations, 1)
	assert.Equal(t, "orders.dlq", pub.destinations[0])
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
