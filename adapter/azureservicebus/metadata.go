package azureservicebus

// Metadata carries the fields Service Bus reports with every received
// message: the lock token backing settlement, delivery count, and the
// session id when the queue has sessions enabled.
type Metadata struct {
	Queue          string
	LockToken      string
	DeliveryCount  int32
	SessionID      string
	SequenceNumber int64
}

func (m Metadata) Provider() string { return "azureservicebus" }
