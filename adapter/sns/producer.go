package sns

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/relaybus/relaybus/adapter"
	"github.com/relaybus/relaybus/contracts"
)

// Producer publishes to one SNS topic ARN. There is no Consumer in this
// package: SNS fans out to subscriber protocols (SQS, Lambda, HTTPS) that
// each have their own delivery semantics outside this contract.
type Producer struct {
	*adapter.Base

	region   string
	topicARN string

	client *sns.Client
}

func NewProducer(region, topicARN string, cfg contracts.Config) (*Producer, error) {
	base, err := adapter.NewBase(cfg)
	if err != nil {
		return nil, err
	}
	return &Producer{Base: base, region: region, topicARN: topicARN}, nil
}

func (p *Producer) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return contracts.NewConnectionError("load aws config failed", err)
	}
	p.client = sns.NewFromConfig(awsCfg)
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

	input := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
	}
	if options.GroupID != "" {
		input.MessageGroupId = aws.String(options.GroupID)
	}
	if options.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(options.DeduplicationID)
	}
	attrs := make(map[string]snstypes.MessageAttributeValue, len(options.Headers)+1)
	for k, v := range options.Headers {
		attrs[k] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v.String())}
	}
	if options.Key != "" {
		attrs["x-key"] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(options.Key)}
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}

	var messageID string
	err := p.ExecuteWithResilience(ctx, func() error {
		out, pubErr := p.client.Publish(ctx, input)
		if pubErr != nil {
			return pubErr
		}
		messageID = aws.ToString(out.MessageId)
		return nil
	})
	if err != nil {
		return "", contracts.NewPublishError("sns publish failed", err)
	}
	return messageID, nil
}

// PublishBatch uses SNS's native PublishBatch, which reports per-entry
// results like SQS's SendMessageBatch.
func (p *Producer) PublishBatch(ctx context.Context, messages []contracts.BatchMessage) ([]string, error) {
	if !p.IsConnected() {
		return nil, contracts.NewConnectionError("producer not connected", nil)
	}

	entries := make([]snstypes.PublishBatchRequestEntry, 0, len(messages))
	for i, m := range messages {
		options := &contracts.PublishOptions{}
		for _, opt := range m.Options {
			opt(options)
		}
		entry := snstypes.PublishBatchRequestEntry{
			Id:      aws.String(strconv.Itoa(i)),
			Message: aws.String(string(m.Body)),
		}
		if options.GroupID != "" {
			entry.MessageGroupId = aws.String(options.GroupID)
		}
		if options.DeduplicationID != "" {
			entry.MessageDeduplicationId = aws.String(options.DeduplicationID)
		}
		entries = append(entries, entry)
	}

	var successful []snstypes.PublishBatchResultEntry
	var failed []snstypes.BatchResultErrorEntry
	err := p.ExecuteWithResilience(ctx, func() error {
		out, pubErr := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
			TopicArn:                   aws.String(p.topicARN),
			PublishBatchRequestEntries: entries,
		})
		if pubErr != nil {
			return pubErr
		}
		successful = out.Successful
		failed = out.Failed
		return nil
	})
	if err != nil {
		return nil, contracts.NewPublishError("sns publish batch failed", err)
	}

	idByEntry := make(map[string]string, len(successful))
	for _, s := range successful {
		idByEntry[aws.ToString(s.Id)] = aws.ToString(s.MessageId)
	}
	for _, f := range failed {
		p.Logger.Warn("sns batch entry failed", "id", aws.ToString(f.Id), "code", aws.ToString(f.Code), "message", aws.ToString(f.Message))
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
	return adapter.TimedHealth(func() error {
		if !p.IsConnected() {
			return contracts.NewConnectionError("not connected", nil)
		}
		_, err := p.client.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(p.topicARN)})
		return err
	}), nil
}
