package kafka

// Metadata carries a delivery's partition and offset, letting callers resume
// from an exact position with Seek.
type Metadata struct {
	Partition int
	Offset    int64
	Topic     string
}

func (m Metadata) Provider() string { return "kafka" }
