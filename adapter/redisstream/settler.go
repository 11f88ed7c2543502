package redisstream

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/relaybus/relaybus/contracts"
)

// settler binds a Message's Ack to XACK on one stream entry. Nack with
// requeue=true is a no-op on the stream itself: an un-acked entry simply
// stays pending until XAUTOCLAIM hands it to another consumer, which is the
// stream's native redelivery mechanism. Nack with requeue=false XACKs the
// entry, so it leaves the pending list and is not redelivered.
type settler struct {
	client *redis.Client
	stream string
	group  string
	id     string
}

func (s *settler) Ack(ctx context.Context) error {
	return s.client.XAck(ctx, s.stream, s.group, s.id).Err()
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	if !requeue {
		return s.client.XAck(ctx, s.stream, s.group, s.id).Err()
	}
	return nil
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return contracts.NewNotImplementedError("extendDeadline")
}
