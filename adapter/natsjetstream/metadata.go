package natsjetstream

// Metadata carries a JetStream delivery's stream and sequence numbers, per
// the compatibility matrix's "stream+sequence" coordinate pair.
type Metadata struct {
	Stream         string
	Consumer       string
	Subject        string
	StreamSequence uint64
	ConsumerSeq    uint64
	NumDelivered   uint64
}

func (m Metadata) Provider() string { return "natsjetstream" }
