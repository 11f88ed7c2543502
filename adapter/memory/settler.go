package memory

import (
	"context"

	"github.com/relaybus/relaybus/contracts"
)

// settler binds a Message's Ack/Nack/ExtendDeadline to one Queue entry.
type settler struct {
	queue *Queue
	id    string
}

func (s *settler) Ack(ctx context.Context) error {
	s.queue.Ack(s.id)
	return nil
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	s.queue.Nack(s.id, requeue)
	return nil
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return contracts.NewNotImplementedError("extendDeadline")
}
