package redisstream

// Metadata carries the stream entry's coordinates within its consumer group.
type Metadata struct {
	Stream string
	Group  string
	Entry  string
}

func (m Metadata) Provider() string { return "redisstream" }
