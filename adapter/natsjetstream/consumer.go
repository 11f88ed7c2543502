package natsjetstream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// Consumer wraps a durable JetStream consumer, dispatching through
// consumer.Consume's push-shape callback. Pause stops the ConsumeContext
// so the broker holds undelivered messages; resume recreates it.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	url                string
	stream             string
	subject            string
	durable            string
	maxDeliverOverride int

	conn     *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	dlq      *reliability.DLQHandler

	mu      sync.Mutex
	consCtx jetstream.ConsumeContext
	paused  atomic.Bool

	handler       contracts.Handler
	subscribeOpts contracts.SubscribeOptions
}

type ConsumerOption func(*Consumer)

func WithMaxDeliver(n int) ConsumerOption {
	return func(c *Consumer) { c.maxDeliverOverride = n }
}

func NewConsumer(url, stream, subject, durable string, cfg contracts.Config, opts ...ConsumerOption) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	c := &Consumer{Base: base, url: url, stream: stream, subject: subject, durable: durable}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type dlqPublisher struct {
	js jetstream.JetStream
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	headers := make(map[string]string, len(record.Headers))
	for k, v := range record.Headers {
		headers[k] = v.String()
	}
	payload, err := encodeEnvelope(record.Body, "", headers)
	if err != nil {
		return err
	}
	_, err = d.js.Publish(ctx, destination, payload)
	return err
}

func (c *Consumer) Connect(ctx context.Context) error {
	conn, err := nats.Connect(c.url)
	if err != nil {
		return contracts.NewConnectionError("nats connect failed", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return contracts.NewConnectionError("jetstream context failed", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.stream,
		Subjects: []string{c.subject},
	}); err != nil {
		conn.Close()
		return contracts.NewConnectionError("stream create failed", err)
	}

	maxDeliver := c.Config.DeadLetterQueue.MaxDeliveryAttempts
	if c.maxDeliverOverride > 0 {
		maxDeliver = c.maxDeliverOverride
	}
	if maxDeliver <= 0 {
		maxDeliver = -1
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: c.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver,
	})
	if err != nil {
		conn.Close()
		return contracts.NewConnectionError("consumer create failed", err)
	}

	c.conn = conn
	c.js = js
	c.consumer = consumer
	c.dlq = reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(&dlqPublisher{js: js}))
	c.SetConnected(true)
	return nil
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.consCtx != nil {
		c.consCtx.Stop()
		c.consCtx = nil
	}
	c.mu.Unlock()
	c.SetConnected(false)
	if c.conn != nil {
		c.conn.Close()
	}
	return nil
}

// Pause stops the ConsumeContext: JetStream stops pushing new deliveries
// and anything already pulled into the client's internal buffer is
// released back to the server when the subscription drains. Messages are
// never held client-side across a pause.
func (c *Consumer) Pause(ctx context.Context) error {
	c.paused.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consCtx != nil {
		c.consCtx.Stop()
		c.consCtx = nil
	}
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	c.paused.Store(false)
	return c.startConsume()
}

func (c *Consumer) IsPaused() bool { return c.paused.Load() }

func (c *Consumer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	h := adapter.TimedHealth(func() error {
		if !c.IsConnected() || !c.conn.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	})
	h.Details = map[string]any{"paused": c.IsPaused()}
	return h, nil
}

func (c *Consumer) GetLag(ctx context.Context) (int64, error) {
	info, err := c.consumer.Info(ctx)
	if err != nil {
		return 0, err
	}
	return int64(info.NumPending), nil
}

// Seek recreates the durable consumer starting at position (a stream
// sequence number, uint64). JetStream has no in-place cursor move for an
// existing consumer, so this stops the active ConsumeContext and replaces
// the consumer definition with one carrying OptStartSeq.
func (c *Consumer) Seek(ctx context.Context, position any) error {
	seq, ok := position.(uint64)
	if !ok {
		return contracts.NewConfigurationError("seek position must be a uint64 stream sequence")
	}

	c.mu.Lock()
	if c.consCtx != nil {
		c.consCtx.Stop()
		c.consCtx = nil
	}
	c.mu.Unlock()

	maxDeliver := c.Config.DeadLetterQueue.MaxDeliveryAttempts
	if c.maxDeliverOverride > 0 {
		maxDeliver = c.maxDeliverOverride
	}
	if maxDeliver <= 0 {
		maxDeliver = -1
	}

	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: c.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    maxDeliver,
		OptStartSeq:   seq,
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
	})
	if err != nil {
		return contracts.NewConsumeError("seek consumer recreate failed", err)
	}
	c.consumer = consumer

	if !c.IsPaused() {
		return c.startConsume()
	}
	return nil
}

func (c *Consumer) Subscribe(ctx context.Context, handler contracts.Handler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}
	c.handler = handler
	c.subscribeOpts = options
	return c.startConsume()
}

func (c *Consumer) startConsume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consCtx != nil {
		return nil
	}

	consCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if c.IsPaused() {
			_ = msg.Nak()
			return
		}
		c.dispatch(context.Background(), msg, c.subscribeOpts, c.handler)
	})
	if err != nil {
		return contracts.NewConsumeError("consume start failed", err)
	}
	c.consCtx = consCtx
	return nil
}

// SubscribeBatch is not offered by this adapter: JetStream's push consumer
// delivers one message per callback invocation, and batching would require
// buffering unacked messages across a pause, which this adapter avoids.
// Callers needing batch semantics should use the pull-shape backends
// (SQS, Redis Streams, Kafka, in-memory).
func (c *Consumer) SubscribeBatch(ctx context.Context, handler contracts.BatchHandler, opts ...contracts.SubscribeOption) error {
	return contracts.NewNotImplementedError("subscribeBatch")
}

func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg, options contracts.SubscribeOptions, handler contracts.Handler) {
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

func (c *Consumer) handleFailure(ctx context.Context, msg jetstream.Msg, out *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled && out.DeliveryAttempt >= dlqCfg.MaxDeliveryAttempts {
		_ = msg.Term()
		_ = c.dlq.DeadLetter(ctx, c.stream, dlqCfg.Destination, out, cause)
		return
	}
	_ = msg.Nak()
}

func (c *Consumer) toMessage(msg jetstream.Msg) *contracts.Message {
	env := decodeEnvelope(msg.Data())

	headers := make(map[string]contracts.HeaderValue, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = contracts.StringHeader(v)
	}

	meta, _ := msg.Metadata()

	out := contracts.NewMessage(msg.Subject(), env.Body, &settler{msg: msg}).
		WithCodec(c.Serializer)
	out.Key = env.Key
	out.Headers = headers
	out.Raw = msg

	if meta != nil {
		out.Timestamp = meta.Timestamp
		out.DeliveryAttempt = int(meta.NumDelivered)
		out.Metadata = Metadata{
			Stream:         c.stream,
			Consumer:       c.durable,
			Subject:        msg.Subject(),
			StreamSequence: meta.Sequence.Stream,
			ConsumerSeq:    meta.Sequence.Consumer,
			NumDelivered:   meta.NumDelivered,
		}
	} else {
		out.DeliveryAttempt = 1
		out.Metadata = Metadata{Stream: c.stream, Consumer: c.durable, Subject: msg.Subject()}
	}
	return out
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
