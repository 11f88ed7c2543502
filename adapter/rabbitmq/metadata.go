package rabbitmq

// Metadata carries the AMQP delivery fields the universal envelope doesn't
// have room for.
type Metadata struct {
	Exchange    string
	RoutingKey  string
	ConsumerTag string
	Redelivered bool
}

func (m Metadata) Provider() string { return "rabbitmq" }
