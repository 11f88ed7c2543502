package natsjetstream

import (
	"context"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/internal/idgen"
)

// Producer publishes into a JetStream stream, creating the stream on
// Connect if it doesn't already exist (idempotent).
type Producer struct {
	*adapter.Base

	url     string
	stream  string
	subject string

	conn *nats.Conn
	js   jetstream.JetStream
}

func NewProducer(url, stream, subject string, cfg contracts.Config) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{Base: base, url: url, stream: stream, subject: subject}, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	conn, err := nats.Connect(p.url)
	if err != nil {
		return contracts.NewConnectionError("nats connect failed", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return contracts.NewConnectionError("jetstream context failed", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     p.stream,
		Subjects: []string{p.subject},
	})
	if err != nil {
		conn.Close()
		return contracts.NewConnectionError("stream create failed", err)
	}

	p.conn = conn
	p.js = js
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	p.SetConnected(false)
	if p.conn != nil {
		p.conn.Close()
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

	headers := make(map[string]string, len(options.Headers))
	for k, v := range options.Headers {
		headers[k] = v.String()
	}

	subject := p.subject
	if options.OrderingKey != "" {
		subject = p.subject + "." + options.OrderingKey
	}

	payload, err := encodeEnvelope(body, options.Key, headers)
	if err != nil {
		return "", contracts.NewSerializationError("encode nats envelope", err)
	}

	id := idgen.New()
	pubOpts := []jetstream.PublishOpt{jetstream.WithMsgID(id)}

	var ack *jetstream.PubAck
	err = p.ExecuteWithResilience(ctx, func() error {
		a, pubErr := p.js.Publish(ctx, subject, payload, pubOpts...)
		if pubErr != nil {
			return pubErr
		}
		ack = a
		return nil
	})
	if err != nil {
		return "", contracts.NewPublishError("jetstream publish failed", err)
	}
	if ack != nil {
		return idFromAck(p.stream, ack.Sequence), nil
	}
	return id, nil
}

func idFromAck(stream string, seq uint64) string {
	return stream + "-" + strconv.FormatUint(seq, 10)
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
		if !p.IsConnected() || !p.conn.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	}), nil
}
