package adapter

import (
	"time"

	"github.com/relaybus/relaybus/contracts"
)

// TimedHealth runs probe and returns the elapsed latency alongside whatever
// Health probe produces, filling in Healthy/Connected/Error consistently so
// every adapter's HealthCheck reports the same shape.
func TimedHealth(probe func() error) contracts.Health {
	start := time.Now()
	err := probe()
	elapsed := float64(time.Since(start).Milliseconds())

	h := contracts.Health{
		Healthy:   err == nil,
		Connected: err == nil,
		LatencyMs: &elapsed,
	}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}
