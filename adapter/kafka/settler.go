package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/relaybus/relaybus/contracts"
)

// settler commits a Reader's offset on Ack. A consumer-group Reader has no
// in-session seek (SetOffset errors once GroupID is set), so a requeueing
// Nack leaves the offset uncommitted instead: the partition is redelivered
// from there the next time this group rejoins (rebalance or process
// restart). A non-requeueing Nack commits the offset like Ack, skipping the
// message for good. dispatch's own retry loop is what actually redelivers a
// nacked message within the same session; see handleFailure.
type settler struct {
	reader *kafkago.Reader
	msg    kafkago.Message
}

func (s *settler) Ack(ctx context.Context) error {
	return s.reader.CommitMessages(ctx, s.msg)
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	if !requeue {
		return s.reader.CommitMessages(ctx, s.msg)
	}
	return nil
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return contracts.NewNotImplementedError("extendDeadline")
}
