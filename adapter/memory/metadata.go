package memory

// Metadata identifies a delivery as having come from the in-memory
// backend and carries the queue it was dequeued from.
type Metadata struct {
	Queue string
}

func (m Metadata) Provider() string { return "memory" }
