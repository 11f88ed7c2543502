// Package azureservicebus implements the contract against Azure Service
// Bus queues: batched sends via the SDK's message-batch API, pull-shape
// receive via ReceiveMessages, and the native dead-letter sub-queue as
// the DLQ destination.
package azureservicebus
