package sqs

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// pausePollInterval is how often the fetch loop re-checks pause state
// while paused.
const pausePollInterval = 200 * time.Millisecond

// Consumer long-polls ReceiveMessage. DeliveryAttempt is read from SQS's
// ApproximateReceiveCount attribute.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	region   string
	queueURL string

	client *sqs.Client
	dlq    *reliability.DLQHandler

	paused atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(region, queueURL string, cfg contracts.Config) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{Base: base, region: region, queueURL: queueURL}, nil
}

type dlqPublisher struct {
	client *sqs.Client
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	attrs := make(map[string]sqstypes.MessageAttributeValue, len(record.Headers))
	for k, v := range record.Headers {
		attrs[k] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v.String())}
	}
	_, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(destination),
		MessageBody:       aws.String(string(record.Body)),
		MessageAttributes: attrs,
	})
	return err
}

func (c *Consumer) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.region))
	if err != nil {
		return contracts.NewConnectionError("load aws config failed", err)
	}
	c.client = sqs.NewFromConfig(awsCfg)
	c.dlq = reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(&dlqPublisher{client: c.client}))
	c.SetConnected(true)
	return nil
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.SetConnected(false)
	return nil
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.paused.Store(false)
	return nil
}

func (c *Consumer) IsPaused() bool { return c.paused.Load() }

func (c *Consumer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	h := adapter.TimedHealth(func() error {
		if !c.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		_, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(c.queueURL),
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
		})
		return err
	})
	h.Details = map[string]any{"paused": c.IsPaused()}
	return h, nil
}

func (c *Consumer) Subscribe(ctx context.Context, handler contracts.Handler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(loopCtx, options, handler)
	return nil
}

func (c *Consumer) SubscribeBatch(ctx context.Context, handler contracts.BatchHandler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.BatchSize <= 0 || options.BatchSize > 10 {
		options.BatchSize = 10
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runBatchLoop(loopCtx, options, handler)
	return nil
}

func (c *Consumer) runLoop(ctx context.Context, options contracts.SubscribeOptions, handler contracts.Handler) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.IsPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePollInterval):
			}
			continue
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   1,
			WaitTimeSeconds:       20,
			MessageAttributeNames: []string{"All"},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Emit(contracts.EventError, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range out.Messages {
			c.dispatch(ctx, m, options, handler)
		}
	}
}

func (c *Consumer) runBatchLoop(ctx context.Context, options contracts.SubscribeOptions, handler contracts.BatchHandler) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.IsPaused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pausePollInterval):
			}
			continue
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   int32(options.BatchSize),
			WaitTimeSeconds:       20,
			MessageAttributeNames: []string{"All"},
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Emit(contracts.EventError, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}

		msgs := make([]*contracts.Message, len(out.Messages))
		for i, m := range out.Messages {
			msgs[i] = c.toMessage(m)
		}

		if err := handler(ctx, msgs); err != nil {
			c.Emit(contracts.EventError, err)
			for _, m := range out.Messages {
				_, _ = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(c.queueURL),
					ReceiptHandle:     m.ReceiptHandle,
					VisibilityTimeout: 0,
				})
			}
			continue
		}
		if options.AutoAck {
			for _, m := range out.Messages {
				_, _ = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(c.queueURL),
					ReceiptHandle: m.ReceiptHandle,
				})
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, m sqstypes.Message, options contracts.SubscribeOptions, handler contracts.Handler) {
	msg := c.toMessage(m)

	err := handler(ctx, msg)
	if err != nil {
		c.Emit(contracts.EventError, err)
		c.handleFailure(ctx, m, msg, err)
		return
	}

	if options.AutoAck {
		_ = msg.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, msg)
}

func (c *Consumer) handleFailure(ctx context.Context, m sqstypes.Message, msg *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled && msg.DeliveryAttempt >= dlqCfg.MaxDeliveryAttempts {
		_, _ = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: m.ReceiptHandle,
		})
		_ = c.dlq.DeadLetter(ctx, c.queueURL, dlqCfg.Destination, msg, cause)
		return
	}
	_, _ = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     m.ReceiptHandle,
		VisibilityTimeout: 0,
	})
}

func (c *Consumer) toMessage(m sqstypes.Message) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue, len(m.MessageAttributes))
	var key string
	for k, v := range m.MessageAttributes {
		if k == "x-key" {
			key = aws.ToString(v.StringValue)
			continue
		}
		headers[k] = contracts.StringHeader(aws.ToString(v.StringValue))
	}

	attempt := 1
	if v, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			attempt = n
		}
	}

	msg := contracts.NewMessage(aws.ToString(m.MessageId), []byte(aws.ToString(m.Body)),
		&settler{client: c.client, queueURL: c.queueURL, receiptHandle: aws.ToString(m.ReceiptHandle)}).
		WithCodec(c.Serializer)
	msg.Key = key
	msg.Headers = headers
	msg.DeliveryAttempt = attempt
	msg.Metadata = Metadata{QueueURL: c.queueURL, ReceiptHandle: aws.ToString(m.ReceiptHandle), ApproximateReceiveCount: attempt}
	msg.Raw = m
	return msg
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
