// Package sqs implements the contract against AWS SQS: long-poll
// ReceiveMessage, ChangeMessageVisibility for nack/extend, and DeleteMessage
// for ack. FIFO queues are supported through MessageGroupId and
// MessageDeduplicationId on PublishOptions.
package sqs
