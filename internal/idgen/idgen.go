// Package idgen generates the unique identifiers attached to published
// messages.
package idgen

import "github.com/google/uuid"

// New returns a fresh UUIDv4 string suitable for a message or delivery ID.
func New() string {
	return uuid.New().String()
}

// NewWithPrefix returns New() prefixed with prefix + "-", used by adapters
// that want a human-readable namespace on synthesized IDs (e.g. in-memory
// queue messages, Kafka "topic-partition-offset" IDs use their own scheme
// instead).
func NewWithPrefix(prefix string) string {
	return prefix + "-" + New()
}
