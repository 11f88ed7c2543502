// Package reliability is the resilience middleware every adapter sits
// behind: backoff strategies, the bounded-attempt retry engine and the
// three-state circuit breaker, plus the dead-letter routing helpers the
// consumer driver uses once a delivery exhausts its attempt budget.
package reliability
