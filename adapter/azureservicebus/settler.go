package azureservicebus

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

// settler binds a Message's lifecycle to one received azservicebus
// message and the receiver that delivered it. Nack(requeue=false) uses
// the SDK's own DeadLetterMessage rather than this package's
// reliability.DLQHandler, since Service Bus carries a native dead-letter
// sub-queue per queue that the broker routes to directly.
type settler struct {
	receiver *azservicebus.Receiver
	msg      *azservicebus.ReceivedMessage
}

func (s *settler) Ack(ctx context.Context) error {
	return s.receiver.CompleteMessage(ctx, s.msg, nil)
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	if requeue {
		return s.receiver.AbandonMessage(ctx, s.msg, nil)
	}
	return s.receiver.DeadLetterMessage(ctx, s.msg, nil)
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	return s.receiver.RenewMessageLock(ctx, s.msg, nil)
}
