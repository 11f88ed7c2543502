// Package redisstream implements the contract against Redis Streams:
// XADD for publish, consumer groups with XREADGROUP for delivery, and a
// periodic XAUTOCLAIM sweep so a crashed consumer's pending entries reach
// a live one.
package redisstream
