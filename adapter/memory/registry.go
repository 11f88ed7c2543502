package memory

import "sync"

// Registry is the process-wide name->queue map every in-memory producer and
// consumer connects against, since queues are shared by multiple
// producer/consumer references rather than owned by one. There is exactly
// one process-wide instance, DefaultRegistry; tests that need isolation
// construct their own with NewRegistry.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// DefaultRegistry is the process-wide registry adapters use unless given an
// explicit one via adapter option.
var DefaultRegistry = NewRegistry()

// GetOrCreate returns the named queue, creating it with opts on first
// reference. A queue created by a prior call ignores opts on subsequent
// calls — the instance persists for the lifetime of the process.
func (r *Registry) GetOrCreate(name string, opts QueueOptions) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	q := NewQueue(name, opts)
	r.queues[name] = q
	return q
}

// QueueStats is one queue's {size, processingCount} snapshot.
type QueueStats struct {
	Size            int
	ProcessingCount int
}

// GetQueueStats returns every known queue's size and in-flight count.
func (r *Registry) GetQueueStats() map[string]QueueStats {
	r.mu.Lock()
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	stats := make(map[string]QueueStats, len(queues))
	for _, q := range queues {
		stats[q.Name()] = QueueStats{Size: q.Size(), ProcessingCount: q.ProcessingCount()}
	}
	return stats
}

// ClearAllQueues empties and removes every registered queue. Used only by
// tests and admin tooling, per Design Note 9's explicit reset operation.
func (r *Registry) ClearAllQueues() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.Clear()
	}
	r.queues = make(map[string]*Queue)
}
