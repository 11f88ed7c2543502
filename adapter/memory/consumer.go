package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// pollInterval is the consumer driver's tick.
const pollInterval = 10 * time.Millisecond

// Consumer implements a pull-shape driver loop against a Queue: each tick
// dequeues (up to batchSize messages), invokes the handler, and
// acks/nacks/dead-letters according to the outcome.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	registry *Registry
	queue    *Queue
	name     string
	opts     QueueOptions
	dlq      *reliability.DLQHandler

	paused   atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

type ConsumerOption func(*Consumer)

func WithConsumerRegistry(r *Registry) ConsumerOption {
	return func(c *Consumer) { c.registry = r }
}

func WithConsumerQueueOptions(opts QueueOptions) ConsumerOption {
	return func(c *Consumer) { c.opts = opts }
}

func NewConsumer(name string, cfg contracts.Config, opts ...ConsumerOption) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	c := &Consumer{Base: base, registry: DefaultRegistry, name: name}
	for _, opt := range opts {
		opt(c)
	}
	c.dlq = reliability.NewDLQHandler(
		reliability.WithDeadLetterPublisher(&dlqPublisher{registry: c.registry}),
	)
	return c, nil
}

// dlqPublisher routes a DeadLetterRecord onto the named destination queue
// within the same registry, so the DLQ is itself an ordinary in-memory
// queue callers can consume from.
type dlqPublisher struct {
	registry *Registry
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	q := d.registry.GetOrCreate(destination, QueueOptions{})
	headers := make(map[string]string, len(record.Headers))
	for k, v := range record.Headers {
		headers[k] = v.String()
	}
	q.Enqueue(record.Body, "", headers)
	return nil
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.queue = c.registry.GetOrCreate(c.name, c.opts)
	c.SetConnected(true)
	return nil
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
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
		return nil
	})
	if c.queue != nil {
		h.Details = map[string]any{
			"queueSize":       c.queue.Size(),
			"processingCount": c.queue.ProcessingCount(),
			"paused":          c.IsPaused(),
		}
	}
	return h, nil
}

// Subscribe starts the pull-shape delivery loop: one message per tick.
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

// SubscribeBatch accumulates up to BatchSize messages per tick (or until
// BatchTimeout elapses since the first item) and dispatches them together.
// A batch handler error nacks every message in the batch; individual ack
// is not attempted.
func (c *Consumer) SubscribeBatch(ctx context.Context, handler contracts.BatchHandler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.BatchSize <= 0 {
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
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.IsPaused() {
				continue
			}
			stored := c.queue.Dequeue()
			if stored == nil {
				continue
			}
			c.dispatch(ctx, stored, options, handler)
		}
	}
}

func (c *Consumer) runBatchLoop(ctx context.Context, options contracts.SubscribeOptions, handler contracts.BatchHandler) {
	defer c.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeout := options.BatchTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	var batch []*storedMessage
	var firstItemAt time.Time

	flush := func() {
		if len(batch) == 0 {
			return
		}
		msgs := make([]*contracts.Message, len(batch))
		for i, stored := range batch {
			msgs[i] = c.toMessage(stored)
		}

		err := handler(ctx, msgs)
		if err != nil {
			c.Emit(contracts.EventError, err)
			for _, stored := range batch {
				c.queue.Nack(stored.id, true)
			}
		} else if options.AutoAck {
			for _, stored := range batch {
				c.queue.Ack(stored.id)
			}
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.IsPaused() {
				if len(batch) > 0 {
					for _, stored := range batch {
						c.queue.Nack(stored.id, true)
					}
					batch = nil
				}
				continue
			}

			for _, stored := range c.queue.DequeueBatch(options.BatchSize - len(batch)) {
				if len(batch) == 0 {
					firstItemAt = time.Now()
				}
				batch = append(batch, stored)
			}

			if len(batch) >= options.BatchSize {
				flush()
				continue
			}
			if len(batch) > 0 && time.Since(firstItemAt) >= timeout {
				flush()
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, stored *storedMessage, options contracts.SubscribeOptions, handler contracts.Handler) {
	msg := c.toMessage(stored)

	err := handler(ctx, msg)
	if err != nil {
		c.Emit(contracts.EventError, err)
		c.handleFailure(ctx, stored, msg, err)
		return
	}

	if options.AutoAck {
		_ = msg.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, msg)
}

func (c *Consumer) handleFailure(ctx context.Context, stored *storedMessage, msg *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled && stored.deliveryAttempt >= dlqCfg.MaxDeliveryAttempts {
		if _, ok := c.queue.DeadLetter(stored.id); ok {
			_ = c.dlq.DeadLetter(ctx, c.name, dlqCfg.Destination, msg, cause)
		}
		return
	}
	c.queue.Nack(stored.id, true)
}

func (c *Consumer) toMessage(stored *storedMessage) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue, len(stored.headers))
	for k, v := range stored.headers {
		headers[k] = contracts.StringHeader(v)
	}

	msg := contracts.NewMessage(stored.id, stored.body, &settler{queue: c.queue, id: stored.id}).
		WithCodec(c.Serializer)
	msg.Key = stored.key
	msg.Headers = headers
	msg.Timestamp = stored.timestamp
	msg.DeliveryAttempt = stored.deliveryAttempt
	msg.Metadata = Metadata{Queue: c.name}
	msg.Raw = stored
	return msg
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
