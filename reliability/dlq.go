package reliability

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/relaybus/relaybus/contracts"
	"github.com/relaybus/relaybus/internal/logging"
)

// Header names added when dead-lettering a message.
const (
	HeaderOriginalQueue    = "x-original-queue"
	HeaderDeathReason      = "x-death-reason"
	HeaderDeathTime        = "x-death-time"
	HeaderDeliveryAttempts = "x-delivery-attempts"
)

// DeadLetterRecord is the backend-agnostic shape a message takes once
// routed to its DLQ destination.
type DeadLetterRecord struct {
	Body             []byte
	Headers          map[string]contracts.HeaderValue
	OriginalQueue    string
	DeathReason      string
	DeathTime        time.Time
	DeliveryAttempts int
}

// DeadLetterPublisher republishes a DeadLetterRecord to its configured
// destination. Every adapter implements this against its own backend
// (exchange/routing key, queue name, topic, ...).
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, destination string, record DeadLetterRecord) error
}

// DLQOption configures a DLQHandler.
type DLQOption func(*DLQHandler)

func WithDLQLogger(logger logging.Logger) DLQOption {
	return func(h *DLQHandler) { h.logger = logger }
}

func WithErrorStore(store ErrorStore) DLQOption {
	return func(h *DLQHandler) { h.errorStore = store }
}

func WithMetricsCollector(collector MetricsCollector) DLQOption {
	return func(h *DLQHandler) { h.metricsCollector = collector }
}

func WithDeadLetterPublisher(publisher DeadLetterPublisher) DLQOption {
	return func(h *DLQHandler) { h.publisher = publisher }
}

// DLQHandler builds DeadLetterRecords from a failed delivery and routes
// them to their destination, stamping the headers above onto the record.
type DLQHandler struct {
	logger           logging.Logger
	errorStore       ErrorStore
	metricsCollector MetricsCollector
	publisher        DeadLetterPublisher
}

func NewDLQHandler(options ...DLQOption) *DLQHandler {
	h := &DLQHandler{logger: logging.Nop()}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// DeadLetter builds the augmented record for msg and routes it to
// destination, recording it in the error store and metrics collector when
// configured.
func (h *DLQHandler) DeadLetter(ctx context.Context, originalQueue, destination string, msg *contracts.Message, cause error) error {
	reason := "max retries exceeded"
	if cause != nil {
		reason = cause.Error()
	}

	record := DeadLetterRecord{
		Body:             msg.Body,
		Headers:          cloneHeaders(msg.Headers),
		OriginalQueue:    originalQueue,
		DeathReason:      reason,
		DeathTime:        time.Now(),
		DeliveryAttempts: msg.DeliveryAttempt,
	}
	record.Headers[HeaderOriginalQueue] = contracts.StringHeader(originalQueue)
	record.Headers[HeaderDeathReason] = contracts.StringHeader(reason)
	record.Headers[HeaderDeathTime] = contracts.StringHeader(record.DeathTime.UTC().Format(time.RFC3339))
	record.Headers[HeaderDeliveryAttempts] = contracts.StringHeader(strconv.Itoa(msg.DeliveryAttempt))

	h.logger.Info("routing message to dead-letter destination",
		"messageId", msg.ID, "originalQueue", originalQueue, "destination", destination, "reason", reason)

	if h.publisher != nil {
		if err := h.publisher.PublishDeadLetter(ctx, destination, record); err != nil {
			if h.metricsCollector != nil {
				h.metricsCollector.RecordDLQMessage(originalQueue, "publish_failed")
			}
			return &DLQError{Destination: destination, MessageID: msg.ID, Op: "publish", Err: err, Timestamp: time.Now()}
		}
	}

	if h.errorStore != nil {
		failed := FailedMessage{
			ID:               msg.ID,
			Queue:            originalQueue,
			Headers:          record.Headers,
			Body:             msg.Body,
			Error:            reason,
			DeliveryAttempts: msg.DeliveryAttempt,
			FirstFailedAt:    msg.Timestamp,
			LastFailedAt:     record.DeathTime,
		}
		if err := h.errorStore.Store(ctx, failed); err != nil {
			h.logger.Error("failed to persist dead-lettered message", "error", err, "messageId", msg.ID)
		}
	}

	if h.metricsCollector != nil {
		h.metricsCollector.RecordDLQMessage(originalQueue, "dead_lettered")
	}

	return nil
}

func cloneHeaders(h map[string]contracts.HeaderValue) map[string]contracts.HeaderValue {
	out := make(map[string]contracts.HeaderValue, len(h)+4)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// ErrorStore persists failed messages for operator inspection.
type ErrorStore interface {
	Store(ctx context.Context, message FailedMessage) error
	Get(ctx context.Context, id string) (*FailedMessage, error)
	List(ctx context.Context, filter ErrorFilter) ([]FailedMessage, error)
	Delete(ctx context.Context, id string) error
}

// FailedMessage is a record of a message that was routed to the DLQ.
type FailedMessage struct {
	ID               string
	Queue            string
	Headers          map[string]contracts.HeaderValue
	Body             []byte
	Error            string
	DeliveryAttempts int
	FirstFailedAt    time.Time
	LastFailedAt     time.Time
}

// MarshalJSON renders Body as a string so FailedMessage round-trips through
// a JSON-backed error store cleanly.
func (f FailedMessage) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID               string
		Queue            string
		Body             string
		Error            string
		DeliveryAttempts int
		FirstFailedAt    time.Time
		LastFailedAt     time.Time
	}
	return json.Marshal(alias{
		ID:               f.ID,
		Queue:            f.Queue,
		Body:             string(f.Body),
		Error:            f.Error,
		DeliveryAttempts: f.DeliveryAttempts,
		FirstFailedAt:    f.FirstFailedAt,
		LastFailedAt:     f.LastFailedAt,
	})
}

// ErrorFilter narrows an ErrorStore.List call.
type ErrorFilter struct {
	Queue      string
	StartTime  time.Time
	EndTime    time.Time
	MaxResults int
}

// MetricsCollector receives DLQ activity counters.
type MetricsCollector interface {
	RecordDLQMessage(queue string, action string)
}

// InMemoryErrorStore is a simple map-backed ErrorStore, suitable for tests
// and single-process deployments.
type InMemoryErrorStore struct {
	messages map[string]FailedMessage
}

func NewInMemoryErrorStore() *InMemoryErrorStore {
	return &InMemoryErrorStore{messages: make(map[string]FailedMessage)}
}

func (s *InMemoryErrorStore) Store(ctx context.Context, message FailedMessage) error {
	s.messages[message.ID] = message
	return nil
}

func (s *InMemoryErrorStore) Get(ctx context.Context, id string) (*FailedMessage, error) {
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	return &msg, nil
}

func (s *InMemoryErrorStore) List(ctx context.Context, filter ErrorFilter) ([]FailedMessage, error) {
	var results []FailedMessage
	for _, msg := range s.messages {
		if filter.Queue != "" && msg.Queue != filter.Queue {
			continue
		}
		if !filter.StartTime.IsZero() && msg.LastFailedAt.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && msg.LastFailedAt.After(filter.EndTime) {
			continue
		}
		results = append(results, msg)
		if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
			break
		}
	}
	return results, nil
}

func (s *InMemoryErrorStore) Delete(ctx context.Context, id string) error {
	delete(s.messages, id)
	return nil
}
