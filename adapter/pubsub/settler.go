package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
)

// settler binds a Message's lifecycle to one received pubsub.Message.
// ExtendDeadline has no direct client-library call of its own: the client
// renews the ack deadline automatically in the background for as long as
// the message is held, so extending it manually is a no-op that still
// counts as success for callers that call it defensively.
type settler struct {
	msg *pubsub.Message
}

func (s *settler) Ack(ctx context.Context) error {
	s.msg.Ack()
	return nil
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	if requeue {
		s.msg.Nack()
	} else {
		s.msg.Ack()
	}
	return nil
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return nil
}
