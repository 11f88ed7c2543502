package rabbitmq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// Consumer subscribes to a durable queue with manual acknowledgement,
// routing exhausted deliveries to their dead-letter destination through the
// shared reliability.DLQHandler.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	url           string
	queue         string
	prefetchCount int

	manager  *ConnectionManager
	pool     *ChannelPool
	topology *TopologyManager
	dlq      *reliability.DLQHandler

	ch     *PooledChannel
	paused atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ConsumerOption func(*Consumer)

func WithPrefetchCount(n int) ConsumerOption {
	return func(c *Consumer) { c.prefetchCount = n }
}

func NewConsumer(url, queue string, cfg contracts.Config, opts ...ConsumerOption) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	c := &Consumer{Base: base, url: url, queue: queue, prefetchCount: 10}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type dlqPublisher struct {
	pool     *ChannelPool
	topology *TopologyManager
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	if err := d.topology.EnsureDestination(ctx, destination); err != nil {
		return err
	}
	return d.pool.Execute(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, "", destination, false, false, amqp.Publishing{
			Body:    record.Body,
			Headers: headerTable(record.Headers),
		})
	})
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.manager = NewConnectionManager(c.url, WithConnectionLogger(c.Logger))
	if err := c.manager.Connect(ctx); err != nil {
		return err
	}

	pool, err := NewChannelPool(c.manager)
	if err != nil {
		return err
	}
	c.pool = pool
	c.topology = NewTopologyManager(pool)

	if err := c.topology.EnsureQueue(ctx, c.queue); err != nil {
		return contracts.NewConnectionError("topology setup failed", err)
	}

	c.dlq = reliability.NewDLQHandler(
		reliability.WithDeadLetterPublisher(&dlqPublisher{pool: pool, topology: c.topology}),
	)

	c.SetConnected(true)
	return nil
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.pool != nil {
		_ = c.pool.Close()
	}
	if c.manager != nil {
		_ = c.manager.Close()
	}
	c.SetConnected(false)
	return nil
}

func (c *Consumer) Pause(ctx context.Context) error {
	if c.ch != nil {
		if err := c.ch.Channel.Flow(false); err != nil {
			return err
		}
	}
	c.paused.Store(true)
	return nil
}

func (c *Consumer) Resume(ctx context.Context) error {
	if c.ch != nil {
		if err := c.ch.Channel.Flow(true); err != nil {
			return err
		}
	}
	c.paused.Store(false)
	return nil
}

func (c *Consumer) IsPaused() bool { return c.paused.Load() }

func (c *Consumer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	return adapter.TimedHealth(func() error {
		if !c.IsConnected() || c.manager == nil || !c.manager.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	}), nil
}

func (c *Consumer) Subscribe(ctx context.Context, handler contracts.Handler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return err
	}
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return err
	}
	c.ch = ch

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(loopCtx, deliveries, options, handler)
	return nil
}

func (c *Consumer) SubscribeBatch(ctx context.Context, handler contracts.BatchHandler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 10
	}
	timeout := options.BatchTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	ch, err := c.pool.Get(ctx)
	if err != nil {
		return err
	}
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		c.pool.Put(ch)
		return err
	}
	c.ch = ch

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		c.pool.Put(ch)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runBatchLoop(loopCtx, deliveries, options, timeout, handler)
	return nil
}

func (c *Consumer) runLoop(ctx context.Context, deliveries <-chan amqp.Delivery, options contracts.SubscribeOptions, handler contracts.Handler) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.dispatch(ctx, delivery, options, handler)
		}
	}
}

func (c *Consumer) runBatchLoop(ctx context.Context, deliveries <-chan amqp.Delivery, options contracts.SubscribeOptions, timeout time.Duration, handler contracts.BatchHandler) {
	defer c.wg.Done()

	var batch []amqp.Delivery
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		msgs := make([]*contracts.Message, len(batch))
		for i, d := range batch {
			msgs[i] = c.toMessage(d)
		}
		if err := handler(ctx, msgs); err != nil {
			c.Emit(contracts.EventError, err)
			for _, d := range batch {
				_ = d.Nack(false, true)
			}
		} else if options.AutoAck {
			for _, d := range batch {
				_ = d.Ack(false)
			}
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			batch = append(batch, delivery)
			if len(batch) >= options.BatchSize {
				flush()
				timer.Reset(timeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(timeout)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, delivery amqp.Delivery, options contracts.SubscribeOptions, handler contracts.Handler) {
	msg := c.toMessage(delivery)

	err := handler(ctx, msg)
	if err != nil {
		c.Emit(contracts.EventError, err)
		c.handleFailure(ctx, delivery, msg, err)
		return
	}

	if options.AutoAck {
		_ = msg.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, msg)
}

func (c *Consumer) handleFailure(ctx context.Context, delivery amqp.Delivery, msg *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled && msg.DeliveryAttempt >= dlqCfg.MaxDeliveryAttempts {
		_ = delivery.Ack(false)
		_ = c.dlq.DeadLetter(ctx, c.queue, dlqCfg.Destination, msg, cause)
		return
	}
	_ = delivery.Nack(false, true)
}

func (c *Consumer) toMessage(delivery amqp.Delivery) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue, len(delivery.Headers))
	for k, v := range delivery.Headers {
		if s, ok := v.(string); ok {
			headers[k] = contracts.StringHeader(s)
		}
	}

	msg := contracts.NewMessage(delivery.MessageId, delivery.Body, &settler{delivery: delivery}).
		WithCodec(c.Serializer)
	msg.Key = delivery.Type
	msg.Headers = headers
	msg.Timestamp = delivery.Timestamp
	// AMQP 0.9.1 only exposes a redelivered flag, not an attempt count; a
	// second delivery is treated as attempt 2 regardless of how many times
	// it actually bounced off the queue before this one.
	if delivery.Redelivered {
		msg.DeliveryAttempt = 2
	} else {
		msg.DeliveryAttempt = 1
	}
	msg.Metadata = Metadata{Exchange: delivery.Exchange, RoutingKey: delivery.RoutingKey, ConsumerTag: delivery.ConsumerTag, Redelivered: delivery.Redelivered}
	msg.Raw = delivery
	return msg
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
