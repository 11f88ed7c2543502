// Package natsjetstream implements the contract against NATS JetStream:
// durable push consumers with msg.Ack()/msg.Nak()/msg.InProgress(), and
// streams auto-created (or reused) from a subject.
package natsjetstream
