package natsjetstream

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// settler binds a Message's lifecycle to one jetstream.Msg. ExtendDeadline
// maps onto msg.InProgress(), JetStream's "working" signal that resets the
// ack-wait timer without settling the delivery.
type settler struct {
	msg jetstream.Msg
}

func (s *settler) Ack(ctx context.Context) error {
	return s.msg.Ack()
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	if !requeue {
		return s.msg.Term()
	}
	return s.msg.Nak()
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return s.msg.InProgress()
}
