// Package pubsub implements the contract against Google Cloud Pub/Sub:
// idempotent topic/subscription creation (ALREADY_EXISTS treated as
// success), and the client library's push-shape Receive callback for
// delivery.
package pubsub
