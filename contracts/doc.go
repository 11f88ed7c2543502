// Package contracts is the broker-agnostic core: the message envelope, the
// error taxonomy, the Producer/Consumer interfaces and the configuration
// schema. Every adapter package imports this one and nothing else from it
// leaks a specific backend's concepts.
package contracts
