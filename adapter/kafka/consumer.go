package kafka

import (
	"context"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// Consumer wraps a kafka.Reader bound to a consumer group, committing
// offsets manually after a handler succeeds.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	brokers []string
	topic   string
	groupID string

	reader *kafkago.Reader
	dlq    *reliability.DLQHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(brokers []string, topic, groupID string, cfg contracts.Config) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{Base: base, brokers: brokers, topic: topic, groupID: groupID}, nil
}

type dlqPublisher struct {
	writer *kafkago.Writer
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	writer := &kafkago.Writer{Addr: d.writer.Addr, Topic: destination, Balancer: &kafkago.LeastBytes{}}
	defer writer.Close()

	headers := make([]kafkago.Header, 0, len(record.Headers))
	for k, v := range record.Headers {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v.String())})
	}
	return writer.WriteMessages(ctx, kafkago.Message{Value: record.Body, Headers: headers})
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.reader = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    c.topic,
		GroupID:  c.groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c.dlq = reliability.NewDLQHandler(
		reliability.WithDeadLetterPublisher(&dlqPublisher{writer: &kafkago.Writer{Addr: kafkago.TCP(c.brokers...)}}),
	)
	c.SetConnected(true)
	return nil
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.SetConnected(false)
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

func (c *Consumer) Pause(ctx context.Context) error { return contracts.NewNotImplementedError("pause") }
func (c *Consumer) Resume(ctx context.Context) error {
	return contracts.NewNotImplementedError("resume")
}
func (c *Consumer) IsPaused() bool { return false }

func (c *Consumer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	h := adapter.TimedHealth(func() error {
		if !c.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return nil
	})
	if c.reader != nil {
		stats := c.reader.Stats()
		h.Details = map[string]any{"lag": stats.Lag}
	}
	return h, nil
}

// GetLag reports the reader's current consumer lag, per the LagReporter
// interface backends with a partition-offset model implement.
func (c *Consumer) GetLag(ctx context.Context) (int64, error) {
	return c.reader.Stats().Lag, nil
}

// Seek repositions the reader to position (an int64 offset). kafka-go
// rejects this once the reader has a GroupID, so Seek only succeeds on a
// reader built without consumer-group membership.
func (c *Consumer) Seek(ctx context.Context, position any) error {
	offset, ok := position.(int64)
	if !ok {
		return contracts.NewConfigurationError("seek position must be an int64 offset")
	}
	if err := c.reader.SetOffset(offset); err != nil {
		return contracts.NewConsumeError("seek failed", err)
	}
	return nil
}

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

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Emit(contracts.EventError, err)
			continue
		}
		c.dispatch(ctx, msg, options, handler)
	}
}

func (c *Consumer) runBatchLoop(ctx context.Context, options contracts.SubscribeOptions, handler contracts.BatchHandler) {
	defer c.wg.Done()

	timeout := options.BatchTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	for {
		var batch []kafkago.Message
		deadline := time.Now().Add(timeout)

		for len(batch) < options.BatchSize && time.Now().Before(deadline) {
			fetchCtx, cancel := context.WithDeadline(ctx, deadline)
			msg, err := c.reader.FetchMessage(fetchCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				break
			}
			batch = append(batch, msg)
		}
		if len(batch) == 0 {
			continue
		}

		msgs := make([]*contracts.Message, len(batch))
		for i, m := range batch {
			msgs[i] = c.toMessage(m)
		}
		if err := handler(ctx, msgs); err != nil {
			c.Emit(contracts.EventError, err)
			continue
		}
		if options.AutoAck {
			_ = c.reader.CommitMessages(ctx, batch...)
		}
	}
}

// dispatch redelivers a failing handler call in-process: a consumer-group
// Reader has no in-session seek, so "nacked for redelivery" means retrying
// the same fetched message against the handler again rather than re-fetching
// it from the broker. Retries stop once maxAttempts is reached (DLQ
// threshold if a DLQ is configured, otherwise a single attempt).
func (c *Consumer) dispatch(ctx context.Context, m kafkago.Message, options contracts.SubscribeOptions, handler contracts.Handler) {
	dlqCfg := c.Config.DeadLetterQueue
	maxAttempts := dlqCfg.MaxDeliveryAttempts
	if !dlqCfg.Enabled || maxAttempts <= 0 {
		maxAttempts = 1
	}

	var msg *contracts.Message
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msg = c.toMessage(m)
		msg.DeliveryAttempt = attempt

		err = handler(ctx, msg)
		if err == nil {
			break
		}
		c.Emit(contracts.EventError, err)
	}

	if err != nil {
		c.handleFailure(ctx, m, msg, err)
		return
	}

	if options.AutoAck {
		_ = msg.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, msg)
}

// handleFailure commits past a message whose retries in dispatch were all
// exhausted, dead-lettering it first when a DLQ is configured.
func (c *Consumer) handleFailure(ctx context.Context, m kafkago.Message, msg *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	if dlqCfg.Enabled {
		_ = c.dlq.DeadLetter(ctx, c.topic, dlqCfg.Destination, msg, cause)
	}
	_ = c.reader.CommitMessages(ctx, m)
}

func messageKey(m kafkago.Message) string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
}

func (c *Consumer) toMessage(m kafkago.Message) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = contracts.BytesHeader(h.Value)
	}

	msg := contracts.NewMessage(messageKey(m), m.Value, &settler{reader: c.reader, msg: m}).
		WithCodec(c.Serializer)
	msg.Key = string(m.Key)
	msg.Headers = headers
	msg.Timestamp = m.Time
	msg.Metadata = Metadata{Partition: m.Partition, Offset: m.Offset, Topic: m.Topic}
	msg.Raw = m
	return msg
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
