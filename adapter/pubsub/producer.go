package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

// Producer publishes into a topic, creating it on Connect if absent.
// Topic creation is idempotent: an ALREADY_EXISTS (grpc code 6) response
// is treated as success.
type Producer struct {
	*adapter.Base

	projectID string
	topicName string

	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewProducer(projectID, topicName string, cfg contracts.Config) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{Base: base, projectID: projectID, topicName: topicName}, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	client, err := pubsub.NewClient(ctx, p.projectID)
	if err != nil {
		return contracts.NewConnectionError("pubsub client create failed", err)
	}

	topic := client.Topic(p.topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return contracts.NewConnectionError("topic exists check failed", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, p.topicName)
		if err != nil && status.Code(err) != codes.AlreadyExists {
			client.Close()
			return contracts.NewConnectionError("topic create failed", err)
		}
		if err != nil {
			topic = client.Topic(p.topicName)
		}
	}

	p.client = client
	p.topic = topic
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	p.SetConnected(false)
	if p.topic != nil {
		p.topic.Stop()
	}
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

	attrs := make(map[string]string, len(options.Headers)+1)
	for k, v := range options.Headers {
		attrs[k] = v.String()
	}
	if options.Key != "" {
		attrs["x-key"] = options.Key
	}

	msg := &pubsub.Message{Data: body, Attributes: attrs}
	if options.OrderingKey != "" {
		msg.OrderingKey = options.OrderingKey
	}

	var serverID string
	err := p.ExecuteWithResilience(ctx, func() error {
		result := p.topic.Publish(ctx, msg)
		id, getErr := result.Get(ctx)
		if getErr != nil {
			return getErr
		}
		serverID = id
		return nil
	})
	if err != nil {
		return "", contracts.NewPublishError("pubsub publish failed", err)
	}
	return serverID, nil
}

func (p *Producer) PublishBatch(ctx context.Context, messages []contracts.BatchMessage) ([]string, error) {
	if !p.IsConnected() {
		return nil, contracts.NewConnectionError("producer not connected", nil)
	}

	results := make([]*pubsub.PublishResult, len(messages))
	for i, m := range messages {
		options := &contracts.PublishOptions{}
		for _, opt := range m.Options {
			opt(options)
		}
		attrs := make(map[string]string, len(options.Headers))
		for k, v := range options.Headers {
			attrs[k] = v.String()
		}
		msg := &pubsub.Message{Data: m.Body, Attributes: attrs, OrderingKey: options.OrderingKey}
		results[i] = p.topic.Publish(ctx, msg)
	}

	ids := make([]string, 0, len(messages))
	for _, r := range results {
		id, err := r.Get(ctx)
		if err != nil {
			return ids, contracts.NewPublishError("pubsub publish batch failed", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Producer) Flush(ctx context.Context) error {
	if p.topic != nil {
		p.topic.Flush()
	}
	return nil
}

func (p *Producer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	return adapter.TimedHealth(func() error {
		if !p.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		exists, err := p.topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return contracts.NewConnectionError("topic no longer exists", nil)
		}
		return nil
	}), nil
}
