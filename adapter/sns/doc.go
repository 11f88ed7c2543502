// Package sns implements the producer half of the contract against AWS SNS:
// a fan-out, publish-only topic with FIFO MessageGroupId/MessageDeduplicationId
// support. SNS has no consumer concept of its own — subscribers are SQS
// queues, Lambda functions or HTTP endpoints consumed through their own
// adapters.
package sns
