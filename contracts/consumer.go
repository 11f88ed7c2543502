package contracts

import (
	"context"
	"time"
)

// Handler processes one delivered Message.
type Handler func(ctx context.Context, msg *Message) error

// BatchHandler processes a bounded group of messages delivered together.
// If it returns an error every message in the batch is nacked/released;
// individual ack is not attempted for a failed batch.
type BatchHandler func(ctx context.Context, msgs []*Message) error

// SubscribeOptions carries the universal set of subscription options. A
// backend ignores any option it does not support.
type SubscribeOptions struct {
	FromBeginning bool
	FromTimestamp time.Time
	Concurrency   int
	AutoAck       bool
	BatchSize     int
	BatchTimeout  time.Duration
}

// DefaultSubscribeOptions returns the baseline subscribe behavior: single
// concurrency, auto-ack on handler success.
func DefaultSubscribeOptions() SubscribeOptions {
	return SubscribeOptions{Concurrency: 1, AutoAck: true}
}

type SubscribeOption func(*SubscribeOptions)

func WithFromBeginning() SubscribeOption {
	return func(o *SubscribeOptions) { o.FromBeginning = true }
}

func WithFromTimestamp(t time.Time) SubscribeOption {
	return func(o *SubscribeOptions) { o.FromTimestamp = t }
}

func WithConcurrency(n int) SubscribeOption {
	return func(o *SubscribeOptions) { o.Concurrency = n }
}

func WithAutoAck(auto bool) SubscribeOption {
	return func(o *SubscribeOptions) { o.AutoAck = auto }
}

func WithBatchSize(n int) SubscribeOption {
	return func(o *SubscribeOptions) { o.BatchSize = n }
}

func WithBatchTimeout(d time.Duration) SubscribeOption {
	return func(o *SubscribeOptions) { o.BatchTimeout = d }
}

// Consumer is the broker-agnostic receive side of the contract.
type Consumer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	Subscribe(ctx context.Context, handler Handler, opts ...SubscribeOption) error
	SubscribeBatch(ctx context.Context, handler BatchHandler, opts ...SubscribeOption) error

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	IsPaused() bool

	HealthCheck(ctx context.Context) (Health, error)

	// On registers a listener for one of the Consumer's emitted events
	// (error, backpressure, rebalancing, rebalanced, crash, message).
	On(kind EventKind, listener EventListener)
}
