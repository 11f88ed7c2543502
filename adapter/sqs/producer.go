package sqs

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

// Producer sends to one SQS queue URL, mapping PublishOptions.GroupID onto
// MessageGroupId and DeduplicationID onto MessageDeduplicationId for FIFO
// queues.
type Producer struct {
	*adapter.Base

	region   string
	queueURL string

	client *sqs.Client
}

func NewProducer(region, queueURL string, cfg contracts.Config) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{Base: base, region: region, queueURL: queueURL}, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return contracts.NewConnectionError("load aws config failed", err)
	}
	p.client = sqs.NewFromConfig(awsCfg)
	p.SetConnected(true)
	return nil
}

func (p *Producer) Disconnect(ctx context.Context) error {
	p.SetConnected(false)
	return nil
}

func (p *Producer) Publish(ctx context.Context, body []byte, opts ...contracts.PublishOption) (string, error) {
	if !p.IsConnected() {
		return "", contracts.NewConnectionError("producer not connected", nil)
	}

	options := &contracts.PublishOptions{}
	for _, opt := range opts {
		opt(options)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if options.DelaySeconds > 0 {
		input.DelaySeconds = int32(options.DelaySeconds)
	}
	if options.GroupID != "" {
		input.MessageGroupId = aws.String(options.GroupID)
	}
	if options.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(options.DeduplicationID)
	}
	if len(options.Headers) > 0 {
		input.MessageAttributes = make(map[string]sqstypes.MessageAttributeValue, len(options.Headers))
		for k, v := range options.Headers {
			input.MessageAttributes[k] = sqstypes.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v.String()),
			}
		}
	}
	if options.Key != "" {
		if input.MessageAttributes == nil {
			input.MessageAttributes = make(map[string]sqstypes.MessageAttributeValue, 1)
		}
		input.MessageAttributes["x-key"] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(options.Key),
		}
	}

	var messageID string
	err := p.ExecuteWithResilience(ctx, func() error {
		out, sendErr := p.client.SendMessage(ctx, input)
		if sendErr != nil {
			return sendErr
		}
		messageID = aws.ToString(out.MessageId)
		return nil
	})
	if err != nil {
		return "", contracts.NewPublishError("sqs send message failed", err)
	}
	return messageID, nil
}

// PublishBatch uses SQS's native SendMessageBatch, which reports per-entry
// results: failures are logged and only successful IDs (in original order)
// come back.
func (p *Producer) PublishBatch(ctx context.Context, messages []contracts.BatchMessage) ([]string, error) {
	if !p.IsConnected() {
		return nil, contracts.NewConnectionError("producer not connected", nil)
	}

	entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(messages))
	for i, m := range messages {
		options := &contracts.PublishOptions{}
		for _, opt := range m.Options {
			opt(options)
		}
		entry := sqstypes.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(m.Body)),
		}
		if options.GroupID != "" {
			entry.MessageGroupId = aws.String(options.GroupID)
		}
		if options.DeduplicationID != "" {
			entry.MessageDeduplicationId = aws.String(options.DeduplicationID)
		}
		entries = append(entries, entry)
	}

	var successful []sqstypes.SendMessageBatchResultEntry
	var failed []sqstypes.BatchResultErrorEntry
	err := p.ExecuteWithResilience(ctx, func() error {
		out, sendErr := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if sendErr != nil {
			return sendErr
		}
		successful = out.Successful
		failed = out.Failed
		return nil
	})
	if err != nil {
		return nil, contracts.NewPublishError("sqs send message batch failed", err)
	}

	idByEntry := make(map[string]string, len(successful))
	for _, s := range successful {
		idByEntry[aws.ToString(s.Id)] = aws.ToString(s.MessageId)
	}
	for _, f := range failed {
		p.Logger.Warn("sqs batch entry failed", "id", aws.ToString(f.Id), "code", aws.ToString(f.Code), "message", aws.ToString(f.Message))
	}

	ids := make([]string, 0, len(messages))
	for i := range messages {
		if id, ok := idByEntry[strconv.Itoa(i)]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *Producer) Flush(ctx context.Context) error { return nil }

func (p *Producer) HealthCheck(ctx context.Context) (contracts.Health, error) {
	h := adapter.TimedHealth(func() error {
		if !p.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(p.queueURL),
			AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
		})
		return err
	})
	return h, nil
}
