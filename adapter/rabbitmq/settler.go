package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaybus/relaybus/contracts"
)

// settler binds a Message's Ack/Nack to one AMQP delivery.
type settler struct {
	delivery amqp.Delivery
}

func (s *settler) Ack(ctx context.Context) error {
	return s.delivery.Ack(false)
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	return s.delivery.Nack(false, requeue)
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return contracts.NewNotImplementedError("extendDeadline")
}
