package pubsub

// Metadata carries the ackId and delivery attempt Pub/Sub reports with
// every received message.
type Metadata struct {
	Subscription    string
	AckID           string
	DeliveryAttempt int
	OrderingKey     string
}

func (m Metadata) Provider() string { return "pubsub" }
