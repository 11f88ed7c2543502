package sqs

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
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
	cfg.DeadLetterQueue.MaxDeliveryAttempts = 3
	cfg.DeadLetterQueue.Destination = "https://sqs.example/000/orders-dlq"

	base, err := adapter.NewBase(cfg)
	require.NoError(t, err)

	return &Consumer{
		Base:     base,
		queueURL: "https://sqs.example/000/orders",
		dlq:      reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(pub)),
	}
}

func TestToMessageReadsApproximateReceiveCountAndKeyAttribute(t *testing.T) {
	c := newTestConsumer(t, nil)

	raw := sqstypes.Message{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"orderId":"123"}`),
		Attributes:    map[string]string{string(sqstypes.QueueAttributeNameApproximateReceiveCount): "2"},
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"x-key":      {StringValue: aws.String("order-123")},
			"x-trace-id": {StringValue: aws.String("abc")},
		},
	}

	msg := c.toMessage(raw)
	assert.Equal(t, "order-123", msg.Key)
	assert.Equal(t, []byte(`{"orderId":"123"}`), msg.Body)
	assert.Equal(t, "abc", msg.HeaderString("x-trace-id"))
	assert.Equal(t, 2, msg.DeliveryAttempt)
	assert.Equal(t, Metadata{QueueURL: c.queueURL, ReceiptHandle: "rh-1", ApproximateReceiveCount: 2}, msg.Metadata)
}

func TestToMessageDefaultsApproximateReceiveCountToOne(t *testing.T) {
	c := newTestConsumer(t, nil)
	raw := sqstypes.Message{MessageId: aws.String("m-1"), ReceiptHandle: aws.String("rh-1"), Body: aws.String("x")}
	msg := c.toMessage(raw)
	assert.Equal(t, 1, msg.DeliveryAttempt)
}

func TestHandleFailureDeadLettersOnlyAfterMaxAttempts(t *testing.T) {
	pub := &recordingPublisher{}
	c := newTestConsumer(t, pub)
	c.client = newNoopClient(t)

	raw := sqstypes.Message{MessageId: aws.String("m-1"), ReceiptHandle: aws.String("rh-1"), Body: aws.String("boom")}
	msg := c.toMessage(raw)
	msg.DeliveryAttempt = 1
	c.handleFailure(context.Background(), raw, msg, errors.New("handler failed"))
	assert.Empty(t, pub.destinations)

	msg2 := c.toMessage(raw)
	msg2.DeliveryAttempt = 3
	c.handleFailure(context.Background(), raw, msg2, errors.New("handler failed"))
	require.Len(t, pub.destinations, 1)
	assert.Equal(t, "https://sqs.example/000/orders-dlq", pub.destinations[0])
	assert.Equal(t, []byte("boom"), pub.records[0].Body)
}

// newNoopClient returns a client with no live credentials or network
// reachability; handleFailure's fire-and-forget SDK calls fail fast and
// their errors are discarded, so it's sufficient for exercising the DLQ
// threshold logic without a real queue.
func newNoopClient(t *testing.T) *sqs.Client {
	t.Helper()
	return sqs.NewFromConfig(aws.Config{Region: "us-east-1"})
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
