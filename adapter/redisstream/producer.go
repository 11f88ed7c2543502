package redisstream

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

// Field names an entry's values are stored under, keeping the payload a raw
// byte blob rather than base64-encoding it into a string field.
const (
	fieldBody      = "body"
	fieldKey       = "key"
	fieldHeaderPfx = "hdr:"
)

// Producer appends to a Redis stream with XADD.
type Producer struct {
	*adapter.Base

	addr         string
	stream       string
	maxLenApprox int64

	client *redis.Client
}

type ProducerOption func(*Producer)

func WithMaxLenApprox(n int64) ProducerOption {
	return func(p *Producer) { p.maxLenApprox = n }
}

func NewProducer(addr, stream string, cfg contracts.Config, opts ...ProducerOption) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	p := &Producer{Base: base, addr: addr, stream: stream}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	p.client = redis.NewClient(&redis.Options{Addr: p.addr})
	if err := p.client.Ping(ctx).Err(); err != nil {
		return contracts.NewConnectionError("redis ping failed", err)
	}
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	p.SetConnected(false)
	if p.client != nil {
		return p.client.Close()
	}
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

	values := map[string]any{fieldBody: body, fieldKey: options.Key}
	for k, v := range options.Headers {
		values[fieldHeaderPfx+k] = v.String()
	}

	args := &redis.XAddArgs{Stream: p.stream, ID: "*", Values: values}
	if p.maxLenApprox > 0 {
		args.MaxLen = p.maxLenApprox
		args.Approx = true
	}

	var id string
	err := p.ExecuteWithResilience(ctx, func() error {
		entryID, err := p.client.XAdd(ctx, args).Result()
		if err != nil {
			return err
		}
		id = entryID
		return nil
	})
	if err != nil {
		return "", contracts.NewPublishError("xadd failed", err)
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
		return p.client.Ping(ctx).Err()
	})
	if p.client != nil {
		if length, err := p.client.XLen(ctx, p.stream).Result(); err == nil {
			h.Details = map[string]any{"streamLength": strconv.FormatInt(length, 10)}
		}
	}
	return h, nil
}
