package contracts

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// HeaderValue is either a string or a raw byte blob, since different
// backends carry headers as one or the other natively.
type HeaderValue struct {
	Str   string
	Bytes []byte
}

func StringHeader(s string) HeaderValue { return HeaderValue{Str: s} }
func BytesHeader(b []byte) HeaderValue  { return HeaderValue{Bytes: b} }

// String returns the textual form of the header, decoding Bytes as UTF-8
// when Str is empty.
func (h HeaderValue) String() string {
	if h.Str != "" {
		return h.Str
	}
	return string(h.Bytes)
}

// Codec is the encode/decode boundary a Message uses to revive its Body
// into a typed value. serializer.Serializer satisfies this structurally;
// contracts defines its own copy rather than importing that package, so
// this file stays free of any concrete codec dependency.
type Codec interface {
	Deserialize(data []byte, v any) error
}

// Metadata identifies the backend that produced an envelope and carries its
// backend-specific fields (Kafka partition+offset, SQS receipt handle, ...).
// Concrete adapters implement this with their own struct.
type Metadata interface {
	Provider() string
}

// Settler is the backend-bound handle an envelope uses to ack, nack or
// extend a delivery's deadline. Adapters implement this against their raw
// SDK delivery object instead of closing over mutable outer state.
type Settler interface {
	Ack(ctx context.Context) error
	Nack(ctx context.Context, requeue bool) error
	ExtendDeadline(ctx context.Context, seconds int) error
}

// Message is the universal envelope handed to every consumer handler.
type Message struct {
	ID              string
	Body            []byte
	Key             string
	Headers         map[string]HeaderValue
	Timestamp       time.Time
	DeliveryAttempt int
	Metadata        Metadata
	Raw             any

	settler Settler
	codec   Codec
	settled atomic.Bool
	once    sync.Once
}

// NewMessage constructs an envelope bound to settler. DeliveryAttempt must
// be >= 1 per the contract's monotonicity invariant.
func NewMessage(id string, body []byte, settler Settler) *Message {
	return &Message{
		ID:              id,
		Body:            body,
		Headers:         make(map[string]HeaderValue),
		Timestamp:       time.Now(),
		DeliveryAttempt: 1,
		settler:         settler,
	}
}

// WithCodec attaches the codec Decode should use, and returns m for
// chaining onto NewMessage. Adapters call this with their Base.Serializer
// right after constructing each envelope.
func (m *Message) WithCodec(c Codec) *Message {
	m.codec = c
	return m
}

// Decode unmarshals Body into v using the codec attached via WithCodec, so
// the __type bigint/timestamp encodings a producer applied round-trip back
// into their typed form. Falls back to plain encoding/json when no codec
// was attached (e.g. a message built directly in a test).
func (m *Message) Decode(v any) error {
	var err error
	if m.codec != nil {
		err = m.codec.Deserialize(m.Body, v)
	} else {
		err = json.Unmarshal(m.Body, v)
	}
	if err != nil {
		return NewSerializationError("decode message body", err)
	}
	return nil
}

// Settled reports whether Ack or Nack has already been called.
func (m *Message) Settled() bool {
	return m.settled.Load()
}

// Ack settles the message positively. Repeat calls are no-ops.
func (m *Message) Ack(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		m.settled.Store(true)
		if m.settler != nil {
			err = m.settler.Ack(ctx)
		}
	})
	return err
}

// Nack settles the message negatively, optionally requesting redelivery.
// Repeat calls (including one after Ack already settled the message) are
// no-ops.
func (m *Message) Nack(ctx context.Context, requeue bool) error {
	var err error
	m.once.Do(func() {
		m.settled.Store(true)
		if m.settler != nil {
			err = m.settler.Nack(ctx, requeue)
		}
	})
	return err
}

// ExtendDeadline lengthens the backend's lock/visibility window for this
// delivery. Returns a NotImplementedError on backends without the concept.
func (m *Message) ExtendDeadline(ctx context.Context, seconds int) error {
	if m.settler == nil {
		return NewNotImplementedError("extendDeadline")
	}
	return m.settler.ExtendDeadline(ctx, seconds)
}

// HeaderString returns the named header's string form, or "" if absent.
func (m *Message) HeaderString(name string) string {
	if h, ok := m.Headers[name]; ok {
		return h.String()
	}
	return ""
}
