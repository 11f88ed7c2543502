// Package kafka implements the contract against Kafka using segmentio's
// kafka-go. Offsets stand in for acknowledgement: committing one is an ack,
// and declining to commit is the only nack Kafka has.
package kafka
