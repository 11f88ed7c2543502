package contracts

import (
	"context"
	"time"
)

// PublishOptions carries the universal set of per-message publish options.
// A backend ignores any option it does not support.
type PublishOptions struct {
	Key             string
	Headers         map[string]HeaderValue
	Partition       *int32
	DelaySeconds    int
	GroupID         string
	DeduplicationID string
	OrderingKey     string
	Priority        *uint8
	TTLMs           int64
	CorrelationID   string
	ReplyTo         string
}

// PublishOption mutates a PublishOptions; used as the functional-options
// argument to Producer.Publish.
type PublishOption func(*PublishOptions)

func WithKey(key string) PublishOption {
	return func(o *PublishOptions) { o.Key = key }
}

func WithHeaders(h map[string]HeaderValue) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]HeaderValue, len(h))
		}
		for k, v := range h {
			o.Headers[k] = v
		}
	}
}

func WithHeader(key string, value HeaderValue) PublishOption {
	return func(o *PublishOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]HeaderValue)
		}
		o.Headers[key] = value
	}
}

func WithPartition(p int32) PublishOption {
	return func(o *PublishOptions) { o.Partition = &p }
}

func WithDelaySeconds(s int) PublishOption {
	return func(o *PublishOptions) { o.DelaySeconds = s }
}

func WithGroupID(id string) PublishOption {
	return func(o *PublishOptions) { o.GroupID = id }
}

func WithDeduplicationID(id string) PublishOption {
	return func(o *PublishOptions) { o.DeduplicationID = id }
}

func WithOrderingKey(key string) PublishOption {
	return func(o *PublishOptions) { o.OrderingKey = key }
}

func WithPriority(p uint8) PublishOption {
	return func(o *PublishOptions) { o.Priority = &p }
}

func WithTTL(d time.Duration) PublishOption {
	return func(o *PublishOptions) { o.TTLMs = d.Milliseconds() }
}

func WithCorrelationID(id string) PublishOption {
	return func(o *PublishOptions) { o.CorrelationID = id }
}

func WithReplyTo(dest string) PublishOption {
	return func(o *PublishOptions) { o.ReplyTo = dest }
}

// BatchMessage is one entry of a PublishBatch call.
type BatchMessage struct {
	Body    []byte
	Options []PublishOption
}

// Producer is the broker-agnostic send side of the contract.
type Producer interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Publish serializes body through the adapter's resilience wrapper and
	// returns a broker-assigned or synthesized message ID.
	Publish(ctx context.Context, body []byte, opts ...PublishOption) (string, error)

	// PublishBatch preserves input order in the returned ID list. Backends
	// without per-entry results aggregate any failure into one PublishError;
	// backends with per-entry results log individual failures and return
	// only the IDs of messages that succeeded, in original order.
	PublishBatch(ctx context.Context, messages []BatchMessage) ([]string, error)

	// Flush ensures buffered messages are sent. Default no-op for backends
	// without client-side buffering.
	Flush(ctx context.Context) error

	HealthCheck(ctx context.Context) (Health, error)
}
