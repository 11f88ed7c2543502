package azureservicebus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/google/uuid"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// receiveBatchSize bounds one ReceiveMessages call. The SDK has no native
// callback/push API (unlike RabbitMQ or NATS), so this adapter drives its
// own poll loop and dispatches each received message through the handler
// as it arrives, approximating the push shape spec.md groups Azure
// Service Bus under.
const receiveBatchSize = 16

// Consumer wraps one queue's Receiver. Pause stops the poll loop without
// touching in-flight locks; any message already received but unsettled
// keeps its lock until it expires and the broker redelivers it.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	connectionString string
	queueName        string

	client   *azservicebus.Client
	receiver *azservicebus.Receiver
	dlq      *reliability.DLQHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	paused  atomic.Bool

	handler       contracts.Handler
	subscribeOpts contracts.SubscribeOptions
}

func NewConsumer(connectionString, queueName string, cfg contracts.Config) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{Base: base, connectionString: connectionString, queueName: queueName}, nil
}

func (c *Consumer) Connect(ctx context.Context) error {
	client, err := azservicebus.NewClientFromConnectionString(c.connectionString, nil)
	if err != nil {
		return contracts.NewConnectionError("servicebus client create failed", err)
	}
	receiver, err := client.NewReceiverForQueue(c.queueName, nil)
	if err != nil {
		client.Close(ctx)
		return contracts.NewConnectionError("servicebus receiver create failed", err)
	}
	c.client = client
	c.receiver = receiver
	c.dlq = reliability.NewDLQHandler()
	c.SetConnected(true)
	return nil
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.SetConnected(false)
	if c.receiver != nil {
		c.receiver.Close(ctx)
	}
	if c.client != nil {
		return c.client.Close(ctx)
	}
	return nil
}

func (c *Consumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.paused.Store(false)
	return c.startPolling()
}

func (c *Consumer) IsPaused() bool { return c.paused.Load() }

func (c *Consumer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	h := adapter.TimedHealth(func() error {
		if !c.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	})
	h.Details = map[string]any{"paused": c.IsPaused()}
	return h, nil
}

func (c *Consumer) Subscribe(ctx context.Context, handler contracts.Handler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}
	c.handler = handler
	c.subscribeOpts = options
	return c.startPolling()
}

// SubscribeBatch groups whatever one ReceiveMessages call returns (up to
// receiveBatchSize) into a single BatchHandler invocation.
func (c *Consumer) SubscribeBatch(ctx context.Context, handler contracts.BatchHandler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go c.runBatchLoop(pollCtx, handler, options)
	return nil
}

func (c *Consumer) startPolling() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go c.runLoop(pollCtx)
	return nil
}

func (c *Consumer) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.IsPaused() {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		msgs, err := c.receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Emit(contracts.EventError, contracts.NewConsumeError("receive failed", err))
			continue
		}
		for _, m := range msgs {
			c.dispatch(ctx, m, c.subscribeOpts, c.handler)
		}
	}
}

func (c *Consumer) runBatchLoop(ctx context.Context, handler contracts.BatchHandler, options contracts.SubscribeOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if c.IsPaused() {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		raw, err := c.receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Emit(contracts.EventError, contracts.NewConsumeError("receive batch failed", err))
			continue
		}
		if len(raw) == 0 {
			continue
		}

		out := make([]*contracts.Message, len(raw))
		for i, m := range raw {
			out[i] = c.toMessage(m)
		}

		if err := handler(ctx, out); err != nil {
			c.Emit(contracts.EventError, err)
			for i, m := range out {
				c.handleFailure(ctx, raw[i], m, err)
			}
			continue
		}
		if options.AutoAck {
			for i, m := range raw {
				_ = c.receiver.CompleteMessage(ctx, m, nil)
				c.Emit(contracts.EventMessage, out[i])
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, raw *azservicebus.ReceivedMessage, options contracts.SubscribeOptions, handler contracts.Handler) {
	out := c.toMessage(raw)

	err := handler(ctx, out)
	if err != nil {
		c.Emit(contracts.EventError, err)
		c.handleFailure(ctx, raw, out, err)
		return
	}

	if options.AutoAck {
		_ = out.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, out)
}

func (c *Consumer) handleFailure(ctx context.Context, raw *azservicebus.ReceivedMessage, out *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled && out.DeliveryAttempt >= dlqCfg.MaxDeliveryAttempts {
		_ = out.Nack(ctx, false)
		_ = c.dlq.DeadLetter(ctx, c.queueName, dlqCfg.Destination, out, cause)
		return
	}
	_ = out.Nack(ctx, true)
}

func (c *Consumer) toMessage(raw *azservicebus.ReceivedMessage) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue, len(raw.ApplicationProperties))
	for k, v := range raw.ApplicationProperties {
		if s, ok := v.(string); ok {
			headers[k] = contracts.StringHeader(s)
		}
	}

	key := ""
	if raw.MessageID != "" {
		key = raw.MessageID
	}

	out := contracts.NewMessage(raw.MessageID, raw.Body, &settler{receiver: c.receiver, msg: raw}).
		WithCodec(c.Serializer)
	out.Key = key
	out.Headers = headers
	if raw.EnqueuedTime != nil {
		out.Timestamp = *raw.EnqueuedTime
	}
	out.DeliveryAttempt = int(raw.DeliveryCount)
	out.Raw = raw

	sessionID := ""
	if raw.SessionID != nil {
		sessionID = *raw.SessionID
	}
	var seq int64
	if raw.SequenceNumber != nil {
		seq = *raw.SequenceNumber
	}
	out.Metadata = Metadata{
		Queue:          c.queueName,
		LockToken:      uuid.UUID(raw.LockToken).String(),
		DeliveryCount:  int32(raw.DeliveryCount),
		SessionID:      sessionID,
		SequenceNumber: seq,
	}
	return out
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
