package memory

import (
	"context"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

// Producer enqueues onto its named queue. Serializing is not required: the
// payload is stored structurally.
type Producer struct {
	*adapter.Base
	registry *Registry
	queue    *Queue
	name     string
	opts     QueueOptions
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

func WithRegistry(r *Registry) ProducerOption {
	return func(p *Producer) { p.registry = r }
}

func WithQueueOptions(opts QueueOptions) ProducerOption {
	return func(p *Producer) { p.opts = opts }
}

// NewProducer builds a Producer targeting the named queue. The queue isn't
// created until Connect, on first producer/consumer connect for that name.
func NewProducer(name string, cfg contracts.Config, opts ...ProducerOption) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	p := &Producer{Base: base, registry: DefaultRegistry, name: name}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	p.queue = p.registry.GetOrCreate(p.name, p.opts)
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
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

	var id string
	err := p.ExecuteWithResilience(ctx, func() error {
		id = p.queue.Enqueue(body, options.Key, headerMap(options.Headers))
		return nil
	})
	if err != nil {
		return "", contracts.NewPublishError("enqueue failed", err)
	}
	return id, nil
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
	h := adapter.TimedHealth(func() error {
		if !p.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	})
	if p.queue != nil {
		h.Details = map[string]any{"queueSize": p.queue.Size()}
	}
	return h, nil
}

func headerMap(h map[string]contracts.HeaderValue) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.String()
	}
	return out
}
