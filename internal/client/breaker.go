package client

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-insight-service/internal/observability"
)

// newBreaker trips after threshold consecutive upstream failures and probes again after timeout.
// State changes are exported as circuitBreakerState and circuitBreakerTransitionsTotal.
func newBreaker(name string, threshold int, timeout time.Duration) *gobreaker.CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	observability.CircuitBreakerState.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(name, to.String()).Inc()
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
