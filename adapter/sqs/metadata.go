package sqs

// Metadata carries the receipt handle and approximate receive count SQS
// hands back with each delivery.
type Metadata struct {
	QueueURL                string
	ReceiptHandle           string
	ApproximateReceiveCount int
	MessageGroupID          string
}

func (m Metadata) Provider() string { return "sqs" }
