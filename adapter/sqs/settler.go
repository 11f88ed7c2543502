package sqs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/relaybus/relaybus/contracts"
)

// settler binds a Message's lifecycle to one receipt handle. Nack with
// requeue=false deletes the message outright: SQS has no app-level "send
// elsewhere" primitive short of a redrive policy already configured on the
// queue, which operates on ApproximateReceiveCount automatically and isn't
// something a single Nack call can trigger directly, per spec's open
// question on this exact mismatch.
type settler struct {
	client        *sqs.Client
	queueURL      string
	receiptHandle string
}

func (s *settler) Ack(ctx context.Context) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(s.receiptHandle),
	})
	return err
}

func (s *settler) Nack(ctx context.Context, requeue bool) error {
	if !requeue {
		return s.Ack(ctx)
	}
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(s.receiptHandle),
		VisibilityTimeout: 0,
	})
	return err
}

func (s *settler) ExtendDeadline(ctx context.Context, seconds int) error {
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(s.receiptHandle),
		VisibilityTimeout: int32(seconds),
	})
	if err != nil {
		return contracts.NewConsumeError("change message visibility failed", err)
	}
	return nil
}
