package contracts

import "context"

// Health is the shape returned by every adapter's HealthCheck.
type Health struct {
	Healthy   bool
	Connected bool
	LatencyMs *float64
	Details   map[string]any
	Error     string
}

// HealthChecker is implemented by both Producer and Consumer.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (Health, error)
}

// Seekable is implemented by backends that support offset repositioning
// (Kafka, Redis Streams, NATS JetStream).
type Seekable interface {
	Seek(ctx context.Context, position any) error
}

// LagReporter is implemented by backends that expose consumer lag (Kafka,
// Redis Streams, NATS JetStream).
type LagReporter interface {
	GetLag(ctx context.Context) (int64, error)
}
