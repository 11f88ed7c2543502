package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/internal/idgen"
)

// Producer publishes to a single durable queue via the default exchange,
// confirming every publish before returning.
type Producer struct {
	*adapter.Base

	url            string
	queue          string
	manager        *ConnectionManager
	pool           *ChannelPool
	poolOpts       []ChannelPoolOption
	topology       *TopologyManager
	confirmTimeout time.Duration
}

type ProducerOption func(*Producer)

func WithConfirmTimeout(d time.Duration) ProducerOption {
	return func(p *Producer) { p.confirmTimeout = d }
}

func WithChannelPoolOptions(opts ...ChannelPoolOption) ProducerOption {
	return func(p *Producer) { p.poolOpts = opts }
}

// NewProducer builds a Producer that will dial url and target queue on
// Connect.
func NewProducer(url, queue string, cfg contracts.Config, opts ...ProducerOption) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	p := &Producer{Base: base, url: url, queue: queue, confirmTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	p.manager = NewConnectionManager(p.url, WithConnectionLogger(p.Logger))
	if err := p.manager.Connect(ctx); err != nil {
		return err
	}

	pool, err := NewChannelPool(p.manager, p.poolOpts...)
	if err != nil {
		return err
	}
	p.pool = pool
	p.topology = NewTopologyManager(pool)

	if err := p.topology.EnsureQueue(ctx, p.queue); err != nil {
		return contracts.NewConnectionError("topology setup failed", err)
	}

	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	if p.pool != nil {
		_ = p.pool.Close()
	}
	if p.manager != nil {
		_ = p.manager.Close()
	}
	p.SetConnected(false)
	return nil
}

func (p *Producer) Publish(ctx context.Context, body []byte, opts ...contracts.PublishOption) (string, error) {
	if !p.IsConnected() {
		return "", contracts.NewConnectionError("producer not connected", nil)
	}

	options := &contracts.PublishOptions{}
	for _, opt := range opts {
		opt(options)
	}

	destination := p.queue
	if options.DelaySeconds > 0 {
		delayQueue, err := p.topology.EnsureDelayQueue(ctx, p.queue, int64(options.DelaySeconds)*1000)
		if err != nil {
			return "", contracts.NewPublishError("delay queue setup failed", err)
		}
		destination = delayQueue
	}

	id := idgen.New()
	publishing := amqp.Publishing{
		MessageId:     id,
		Body:          body,
		Timestamp:     time.Now(),
		Headers:       headerTable(options.Headers),
		CorrelationId: options.CorrelationID,
		ReplyTo:       options.ReplyTo,
	}
	if options.Key != "" {
		publishing.Type = options.Key
	}
	if options.Priority != nil {
		publishing.Priority = *options.Priority
	}
	if options.TTLMs > 0 {
		publishing.Expiration = strconv.FormatInt(options.TTLMs, 10)
	}

	err := p.ExecuteWithResilience(ctx, func() error {
		return p.publishWithConfirm(ctx, destination, publishing)
	})
	if err != nil {
		return "", contracts.NewPublishError("publish failed", err)
	}
	return id, nil
}

func (p *Producer) publishWithConfirm(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer p.pool.Put(ch)

	if err := ch.Confirm(false); err != nil {
		return err
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))

	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return err
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return contracts.NewPublishError("broker nacked publish", nil)
		}
		return nil
	case ret := <-returns:
		return contracts.NewPublishError("message returned: "+ret.ReplyText, nil)
	case <-time.After(p.confirmTimeout):
		return contracts.NewTimeoutError("timeout waiting for publish confirmation", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) PublishBatch(ctx context.Context, messages []contracts.BatchMessage) ([]string, error) {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		id, err := p.Publish(ctx, m.Body, m.Options...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Producer) Flush(ctx context.Context) error { return nil }

func (p *Producer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	return adapter.TimedHealth(func() error {
		if !p.IsConnected() || p.manager == nil || !p.manager.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	}), nil
}

func headerTable(h map[string]contracts.HeaderValue) amqp.Table {
	if h == nil {
		return nil
	}
	out := amqp.Table{}
	for k, v := range h {
		out[k] = v.String()
	}
	return out
}
