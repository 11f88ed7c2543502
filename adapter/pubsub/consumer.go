package pubsub

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// Consumer wraps a pull subscription, dispatching through the client
// library's own push-shape Receive callback. Pause cancels the Receive
// context so the library's internal flow control stops pulling and holds
// nothing client-side; resume starts a fresh Receive call.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	projectID string
	topicName string
	subName   string

	client *pubsub.Client
	sub    *pubsub.Subscription
	dlq    *reliability.DLQHandler

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	handler       contracts.Handler
	subscribeOpts contracts.SubscribeOptions
}

func NewConsumer(projectID, topicName, subName string, cfg contracts.Config) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{Base: base, projectID: projectID, topicName: topicName, subName: subName}, nil
}

type dlqPublisher struct {
	client *pubsub.Client
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	attrs := make(map[string]string, len(record.Headers))
	for k, v := range record.Headers {
		attrs[k] = v.String()
	}
	topic := d.client.Topic(destination)
	defer topic.Stop()
	result := topic.Publish(ctx, &pubsub.Message{Data: record.Body, Attributes: attrs})
	_, err := result.Get(ctx)
	return err
}

func (c *Consumer) Connect(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, c.projectID)
	if err != nil {
		return contracts.NewConnectionError("pubsub client create failed", err)
	}

	topic := client.Topic(c.topicName)
	sub := client.Subscription(c.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		client.Close()
		return contracts.NewConnectionError("subscription exists check failed", err)
	}
	if !exists {
		sub, err = client.CreateSubscription(ctx, c.subName, pubsub.SubscriptionConfig{Topic: topic})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			client.Close()
			return contracts.NewConnectionError("subscription create failed", err)
		}
		if err != nil {
			sub = client.Subscription(c.subName)
		}
	}

	c.client = client
	c.sub = sub
	c.dlq = reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(&dlqPublisher{client: client}))
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
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Consumer) Pause(ctx context.Context) error {
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
	return c.startReceive()
}

func (c *Consumer) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

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
	return c.startReceive()
}

// SubscribeBatch is not offered: the client library's Receive callback
// delivers one message at a time and internally manages flow control,
// leaving no seam to assemble a batch without buffering across calls.
// Callers needing batch semantics should use a pull-shape backend.
func (c *Consumer) SubscribeBatch(ctx context.Context, handler contracts.BatchHandler, opts ...contracts.SubscribeOption) error {
	return contracts.NewNotImplementedError("subscribeBatch")
}

func (c *Consumer) startReceive() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	recvCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go func() {
		err := c.sub.Receive(recvCtx, func(ctx context.Context, msg *pubsub.Message) {
			c.dispatch(ctx, msg, c.subscribeOpts, c.handler)
		})
		if err != nil && recvCtx.Err() == nil {
			c.Emit(contracts.EventError, contracts.NewConsumeError("receive loop exited", err))
		}
	}()
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, msg *pubsub.Message, options contracts.SubscribeOptions, handler contracts.Handler) {
	out := c.toMessage(msg)

	err := handler(ctx, out)
	if err != nil {
		c.Emit(contracts.EventError, err)
		c.handleFailure(ctx, msg, out, err)
		return
	}

	if options.AutoAck {
		_ = out.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, out)
}

func (c *Consumer) handleFailure(ctx context.Context, msg *pubsub.Message, out *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled && out.DeliveryAttempt >= dlqCfg.MaxDeliveryAttempts {
		msg.Ack()
		_ = c.dlq.DeadLetter(ctx, c.subName, dlqCfg.Destination, out, cause)
		return
	}
	msg.Nack()
}

func (c *Consumer) toMessage(msg *pubsub.Message) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue, len(msg.Attributes))
	key := ""
	for k, v := range msg.Attributes {
		if k == "x-key" {
			key = v
			continue
		}
		headers[k] = contracts.StringHeader(v)
	}

	attempt := 1
	if msg.DeliveryAttempt != nil {
		attempt = *msg.DeliveryAttempt
	}

	out := contracts.NewMessage(c.topicName, msg.Data, &settler{msg: msg}).
		WithCodec(c.Serializer)
	out.ID = msg.ID
	out.Key = key
	out.Headers = headers
	out.Timestamp = msg.PublishTime
	out.DeliveryAttempt = attempt
	out.Raw = msg
	out.Metadata = Metadata{
		Subscription:    c.subName,
		AckID:           msg.AckID,
		DeliveryAttempt: attempt,
		OrderingKey:     msg.OrderingKey,
	}
	return out
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
