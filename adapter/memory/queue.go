// Package memory is the reference backend: a FIFO queue with in-flight
// tracking, requeue, DLQ forwarding, and capacity/age limits. It defines
// ground truth for the contract and is the primary unit-test target.
package memory

import (
	"sync"
	"time"

	"github.com/relaybus/relaybus/internal/idgen"
)

// storedMessage is one entry in a Queue's ordered sequence.
type storedMessage struct {
	id              string
	body            []byte
	key             string
	headers         map[string]string
	timestamp       time.Time
	deliveryAttempt int
	deadLettered    bool
}

// QueueOptions bounds a Queue's size and age.
type QueueOptions struct {
	MaxMessages int
	MaxAge      time.Duration
}

// Queue is a mutex-guarded FIFO slice plus an in-flight index. A single
// mutex serializes enqueue/dequeue/ack/nack/deadLetter/clear against one
// another.
type Queue struct {
	mu       sync.Mutex
	name     string
	opts     QueueOptions
	messages []*storedMessage
	inFlight map[string]*storedMessage
}

// NewQueue constructs an empty queue named name.
func NewQueue(name string, opts QueueOptions) *Queue {
	return &Queue{
		name:     name,
		opts:     opts,
		inFlight: make(map[string]*storedMessage),
	}
}

func (q *Queue) Name() string { return q.name }

// Enqueue appends body to the tail, assigning a synthesized ID. Overflow
// drops the oldest message; age-based eviction also runs lazily here.
func (q *Queue) Enqueue(body []byte, key string, headers map[string]string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()

	msg := &storedMessage{
		id:        idgen.New(),
		body:      body,
		key:       key,
		headers:   headers,
		timestamp: time.Now(),
	}
	q.messages = append(q.messages, msg)

	if q.opts.MaxMessages > 0 {
		for len(q.messages) > q.opts.MaxMessages {
			q.messages = q.messages[1:]
		}
	}

	return msg.id
}

// Dequeue removes the head, increments its delivery attempt and adds it to
// the in-flight map. Returns nil when the queue is empty.
func (q *Queue) Dequeue() *storedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()

	if len(q.messages) == 0 {
		return nil
	}

	msg := q.messages[0]
	q.messages = q.messages[1:]
	msg.deliveryAttempt++
	q.inFlight[msg.id] = msg
	return msg
}

// DequeueBatch repeatedly dequeues up to n messages, stopping at empty.
func (q *Queue) DequeueBatch(n int) []*storedMessage {
	out := make([]*storedMessage, 0, n)
	for i := 0; i < n; i++ {
		msg := q.Dequeue()
		if msg == nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Ack removes id from the in-flight map. Returns false if id was not
// in-flight (already settled, or unknown).
func (q *Queue) Ack(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inFlight[id]; !ok {
		return false
	}
	delete(q.inFlight, id)
	return true
}

// Nack removes id from the in-flight map; when requeue is true the message
// is prepended to the head so it is next-to-dequeue.
func (q *Queue) Nack(id string, requeue bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[id]
	if !ok {
		return false
	}
	delete(q.inFlight, id)

	if requeue {
		q.messages = append([]*storedMessage{msg}, q.messages...)
	}
	return true
}

// DeadLetter removes id from the in-flight map without requeueing it;
// callers (the consumer driver) are responsible for forwarding it to the
// configured DLQ destination queue via Enqueue on that queue.
func (q *Queue) DeadLetter(id string) (*storedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[id]
	if !ok {
		return nil, false
	}
	delete(q.inFlight, id)
	msg.deadLettered = true
	return msg, true
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = nil
	q.inFlight = make(map[string]*storedMessage)
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// evictExpiredLocked drops messages older than MaxAge. Callers must hold
// q.mu.
func (q *Queue) evictExpiredLocked() {
	if q.opts.MaxAge <= 0 || len(q.messages) == 0 {
		return
	}
	cutoff := time.Now().Add(-q.opts.MaxAge)
	kept := q.messages[:0:0]
	for _, m := range q.messages {
		if m.timestamp.After(cutoff) {
			kept = append(kept, m)
		}
	}
	q.messages = kept
}

// Peek returns the head message, if any, without removing it. Used only by
// tests and admin tooling.
func (q *Queue) Peek() *storedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	return q.messages[0]
}
