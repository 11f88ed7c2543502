package redisstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/reliability"
)

// Consumer reads a stream through a consumer group, polling with
// XREADGROUP ... BLOCK and periodically reclaiming long-pending entries
// with XAUTOCLAIM so a crashed consumer's work gets picked up elsewhere.
type Consumer struct {
	*adapter.Base
	contracts.EventEmitter

	addr         string
	stream       string
	group        string
	consumerName string
	block        time.Duration
	claimMinIdle time.Duration

	client *redis.Client
	dlq    *reliability.DLQHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ConsumerOption func(*Consumer)

func WithConsumerName(name string) ConsumerOption {
	return func(c *Consumer) { c.consumerName = name }
}

func WithBlock(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.block = d }
}

func WithClaimMinIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.claimMinIdle = d }
}

func NewConsumer(addr, stream, group string, cfg contracts.Config, opts ...ConsumerOption) (*Consumer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	c := &Consumer{
		Base: base, addr: addr, stream: stream, group: group,
		consumerName: contracts.DefaultConfig().ClientID,
		block:        5 * time.Second,
		claimMinIdle: 30 * time.Second,
	}
	if c.consumerName == "" {
		c.consumerName = "relaybus-" + cfg.ClientID
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type dlqPublisher struct {
	client *redis.Client
}

func (d *dlqPublisher) PublishDeadLetter(ctx context.Context, destination string, record reliability.DeadLetterRecord) error {
	values := map[string]any{fieldBody: record.Body}
	for k, v := range record.Headers {
		values[fieldHeaderPfx+k] = v.String()
	}
	return d.client.XAdd(ctx, &redis.XAddArgs{Stream: destination, ID: "*", Values: values}).Err()
}

func (c *Consumer) Connect(ctx context.Context) error {
	c.client = redis.NewClient(&redis.Options{Addr: c.addr})
	if err := c.client.Ping(ctx).Err(); err != nil {
		return contracts.NewConnectionError("redis ping failed", err)
	}

	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroupErr(err) {
		return contracts.NewConnectionError("xgroup create failed", err)
	}

	c.dlq = reliability.NewDLQHandler(reliability.WithDeadLetterPublisher(&dlqPublisher{client: c.client}))
	c.SetConnected(true)
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 8 && err.Error()[:8] == "BUSYGROU"
}

func (c *Consumer) Disconnect(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.SetConnected(false)
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Consumer) Pause(ctx context.Context) error { return contracts.NewNotImplementedError("pause") }
func (c *Consumer) Resume(ctx context.Context) error {
	return contracts.NewNotImplementedError("resume")
}
func (c *Consumer) IsPaused() bool { return false }

func (c *Consumer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	return adapter.TimedHealth(func() error {
		if !c.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		return c.client.Ping(ctx).Err()
	}), nil
}

func (c *Consumer) GetLag(ctx context.Context) (int64, error) {
	info, err := c.client.XInfoGroups(ctx, c.stream).Result()
	if err != nil {
		return 0, err
	}
	for _, g := range info {
		if g.Name == c.group {
			return g.Lag, nil
		}
	}
	return 0, nil
}

// Seek repositions the consumer group's last-delivered ID (position is a
// stream entry ID string, or "0" / "$" for the stream's start/end).
func (c *Consumer) Seek(ctx context.Context, position any) error {
	id, ok := position.(string)
	if !ok {
		return contracts.NewConfigurationError("seek position must be a stream entry ID string")
	}
	return c.client.XGroupSetID(ctx, c.stream, c.group, id).Err()
}

func (c *Consumer) Subscribe(ctx context.Context, handler contracts.Handler, opts ...contracts.SubscribeOption) error {
	options := contracts.DefaultSubscribeOptions()
	for _, opt := range opts {
		opt(&options)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(2)
	go c.runLoop(loopCtx, options, handler)
	go c.runClaimLoop(loopCtx, options, handler)
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
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    c.block,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			c.Emit(contracts.EventError, err)
			continue
		}

		for _, s := range result {
			for _, entry := range s.Messages {
				c.dispatch(ctx, entry, options, handler)
			}
		}
	}
}

func (c *Consumer) runBatchLoop(ctx context.Context, options contracts.SubscribeOptions, handler contracts.BatchHandler) {
	defer c.wg.Done()

	timeout := options.BatchTimeout
	if timeout <= 0 {
		timeout = c.block
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    int64(options.BatchSize),
			Block:    timeout,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			c.Emit(contracts.EventError, err)
			continue
		}

		for _, s := range result {
			if len(s.Messages) == 0 {
				continue
			}
			msgs := make([]*contracts.Message, len(s.Messages))
			ids := make([]string, len(s.Messages))
			for i, entry := range s.Messages {
				msgs[i] = c.toMessage(entry)
				ids[i] = entry.ID
			}

			if err := handler(ctx, msgs); err != nil {
				c.Emit(contracts.EventError, err)
				continue
			}
			if options.AutoAck {
				c.client.XAck(ctx, c.stream, c.group, ids...)
			}
		}
	}
}

// runClaimLoop periodically reclaims entries idle longer than claimMinIdle,
// giving a crashed consumer's pending work to this one.
func (c *Consumer) runClaimLoop(ctx context.Context, options contracts.SubscribeOptions, handler contracts.Handler) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.claimMinIdle)
	defer ticker.Stop()

	cursor := "0-0"
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   c.stream,
				Group:    c.group,
				Consumer: c.consumerName,
				MinIdle:  c.claimMinIdle,
				Start:    cursor,
				Count:    10,
			}).Result()
			if err != nil {
				continue
			}
			cursor = next
			for _, entry := range entries {
				c.dispatch(ctx, entry, options, handler)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, entry redis.XMessage, options contracts.SubscribeOptions, handler contracts.Handler) {
	msg := c.toMessage(entry)

	err := handler(ctx, msg)
	if err != nil {
		c.Emit(contracts.EventError, err)
		c.handleFailure(ctx, entry, msg, err)
		return
	}

	if options.AutoAck {
		_ = msg.Ack(ctx)
	}
	c.Emit(contracts.EventMessage, msg)
}

func (c *Consumer) handleFailure(ctx context.Context, entry redis.XMessage, msg *contracts.Message, cause error) {
	dlqCfg := c.Config.DeadLetterQueue
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream, Group: c.group, Start: entry.ID, End: entry.ID, Count: 1,
	}).Result()

	deliveryCount := int64(1)
	if err == nil && len(pending) == 1 {
		deliveryCount = pending[0].RetryCount
	}
	msg.DeliveryAttempt = int(deliveryCount)

	if dlqCfg.Enabled && int(deliveryCount) >= dlqCfg.MaxDeliveryAttempts {
		_ = c.client.XAck(ctx, c.stream, c.group, entry.ID).Err()
		_ = c.dlq.DeadLetter(ctx, c.stream, dlqCfg.Destination, msg, cause)
	}
}

func (c *Consumer) toMessage(entry redis.XMessage) *contracts.Message {
	headers := make(map[string]contracts.HeaderValue)
	var body []byte
	var key string

	for k, v := range entry.Values {
		switch {
		case k == fieldBody:
			switch b := v.(type) {
			case string:
				body = []byte(b)
			case []byte:
				body = b
			}
		case k == fieldKey:
			key, _ = v.(string)
		case len(k) > len(fieldHeaderPfx) && k[:len(fieldHeaderPfx)] == fieldHeaderPfx:
			if s, ok := v.(string); ok {
				headers[k[len(fieldHeaderPfx):]] = contracts.StringHeader(s)
			}
		}
	}

	msg := contracts.NewMessage(entry.ID, body, &settler{client: c.client, stream: c.stream, group: c.group, id: entry.ID}).
		WithCodec(c.Serializer)
	msg.Key = key
	msg.Headers = headers
	msg.Metadata = Metadata{Stream: c.stream, Group: c.group, Entry: entry.ID}
	msg.Raw = entry
	return msg
}

func (c *Consumer) On(kind contracts.EventKind, listener contracts.EventListener) {
	c.EventEmitter.On(kind, listener)
}
