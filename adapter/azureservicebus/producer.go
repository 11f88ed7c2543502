package azureservicebus

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

// Producer sends into one queue. PublishBatch follows the SDK's own
// batching algorithm: try to add each message to the current
// azservicebus.MessageBatch, and when AddMessage refuses (batch full),
// send what's accumulated and open a fresh batch before retrying the
// message that was refused.
type Producer struct {
	*adapter.Base

	connectionString string
	queueName        string

	client *azservicebus.Client
	sender *azservicebus.Sender
}

func NewProducer(connectionString, queueName string, cfg contracts.Config) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{Base: base, connectionString: connectionString, queueName: queueName}, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	client, err := azservicebus.NewClientFromConnectionString(p.connectionString, nil)
	if err != nil {
		return contracts.NewConnectionError("servicebus client create failed", err)
	}
	sender, err := client.NewSender(p.queueName, nil)
	if err != nil {
		client.Close(ctx)
		return contracts.NewConnectionError("servicebus sender create failed", err)
	}
	p.client = client
	p.sender = sender
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	p.SetConnected(false)
	if p.sender != nil {
		p.sender.Close(ctx)
	}
	if p.client != nil {
		return p.client.Close(ctx)
	}
	return nil
}

func toSBMessage(body []byte, options *contracts.PublishOptions) *azservicebus.Message {
	msg := &azservicebus.Message{Body: body}
	if options.Key != "" {
		msg.MessageID = &options.Key
	}
	if options.OrderingKey != "" {
		msg.SessionID = &options.OrderingKey
	}
	if options.CorrelationID != "" {
		msg.CorrelationID = &options.CorrelationID
	}
	if options.ReplyTo != "" {
		msg.ReplyTo = &options.ReplyTo
	}
	if options.TTLMs > 0 {
		d := time.Duration(options.TTLMs) * time.Millisecond
		msg.TimeToLive = &d
	}
	if len(options.Headers) > 0 {
		msg.ApplicationProperties = make(map[string]any, len(options.Headers))
		for k, v := range options.Headers {
			msg.ApplicationProperties[k] = v.String()
		}
	}
	return msg
}

func (p *Producer) Publish(ctx context.Context, body []byte, opts ...contracts.PublishOption) (string, error) {
	if !p.IsConnected() {
		return "", contracts.NewConnectionError("producer not connected", nil)
	}

	options := &contracts.PublishOptions{}
	for _, opt := range opts {
		opt(options)
	}
	msg := toSBMessage(body, options)

	err := p.ExecuteWithResilience(ctx, func() error {
		return p.sender.SendMessage(ctx, msg, nil)
	})
	if err != nil {
		return "", contracts.NewPublishError("servicebus publish failed", err)
	}
	if msg.MessageID != nil {
		return *msg.MessageID, nil
	}
	return "", nil
}

func (p *Producer) PublishBatch(ctx context.Context, messages []contracts.BatchMessage) ([]string, error) {
	if !p.IsConnected() {
		return nil, contracts.NewConnectionError("producer not connected", nil)
	}

	ids := make([]string, 0, len(messages))
	batch, err := p.sender.NewMessageBatch(ctx, nil)
	if err != nil {
		return nil, contracts.NewPublishError("servicebus batch create failed", err)
	}

	flush := func() error {
		if batch.NumMessages() == 0 {
			return nil
		}
		if err := p.sender.SendMessageBatch(ctx, batch, nil); err != nil {
			return err
		}
		batch, err = p.sender.NewMessageBatch(ctx, nil)
		return err
	}

	for _, m := range messages {
		options := &contracts.PublishOptions{}
		for _, opt := range m.Options {
			opt(options)
		}
		msg := toSBMessage(m.Body, options)

		addErr := batch.AddMessage(msg, nil)
		if errors.Is(addErr, azservicebus.ErrMessageTooLarge) {
			if err := flush(); err != nil {
				return ids, contracts.NewPublishError("servicebus batch flush failed", err)
			}
			addErr = batch.AddMessage(msg, nil)
			if addErr != nil {
				return ids, contracts.NewPublishError("servicebus message too large for an empty batch", addErr)
			}
		} else if addErr != nil {
			return ids, contracts.NewPublishError("servicebus batch add failed", addErr)
		}
		if msg.MessageID != nil {
			ids = append(ids, *msg.MessageID)
		}
	}

	if err := flush(); err != nil {
		return ids, contracts.NewPublishError("servicebus final batch flush failed", err)
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
