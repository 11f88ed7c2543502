// Package rabbitmq implements the contract against a real RabbitMQ broker:
// a pooled-channel connection manager, confirm-mode publishing, manual-ack
// consumption, and dead-letter/delay topology built from plain exchanges and
// queue arguments rather than a broker plugin.
package rabbitmq
