package kafka

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/internal/idgen"
)

// Producer wraps a kafka.Writer, hash-partitioning by PublishOption's Key
// when one is set.
type Producer struct {
	*adapter.Base

	brokers []string
	topic   string
	writer  *kafkago.Writer
}

func NewProducer(brokers []string, topic string, cfg contracts.Config) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{Base: base, brokers: brokers, topic: topic}, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(p.brokers...),
		Topic:        p.topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	p.SetConnected(false)
	if p.writer != nil {
		return p.writer.Close()
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

	id := idgen.New()
	msg := kafkago.Message{Key: []byte(options.Key), Value: body}
	if options.Partition != nil {
		msg.Partition = int(*options.Partition)
	}
	if len(options.Headers) > 0 {
		msg.Headers = make([]kafkago.Header, 0, len(options.Headers))
		for k, v := range options.Headers {
			msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v.String())})
		}
	}
	msg.Headers = append(msg.Headers, kafkago.Header{Key: "x-message-id", Value: []byte(id)})

	err := p.ExecuteWithResilience(ctx, func() error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return "", contracts.NewPublishError("kafka write failed", err)
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
	return adapter.TimedHealth(func() error {
		if !p.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	}), nil
}
