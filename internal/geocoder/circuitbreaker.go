package geocoder

import (
	"time"

	"github.com/foodatlas/pipeline/internal/broker"
)

// CircuitBreaker adapts cuemby-warren's health-check hysteresis pattern
// (consecutive-failure threshold plus a cooldown before retrying) from
// healthy/unhealthy semantics to call-suppression semantics: once a
// provider's failure count crosses the threshold within the broker-resident
// state, the circuit opens and the chain skips straight to the next
// provider until the cooldown elapses.
type CircuitBreaker struct {
	b                   *broker.Broker
	provider            string
	failureThreshold    int
	cooldown            time.Duration
}

// NewCircuitBreaker returns a CircuitBreaker for provider backed by b.
func NewCircuitBreaker(b *broker.Broker, provider string, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{b: b, provider: provider, failureThreshold: failureThreshold, cooldown: cooldown}
}

// Allow reports whether a call to the provider should be attempted. A
// circuit in "open" state transitions to "half_open" once the cooldown has
// elapsed and lets that call through. Every call is allowed while the state
// is "half_open", until RecordSuccess closes the circuit or RecordFailure
// reopens it.
func (c *CircuitBreaker) Allow() (bool, error) {
	state, err := c.b.CircuitGet(c.provider)
	if err != nil {
		return false, err
	}
	switch state.State {
	case "closed", "half_open":
		return true, nil
	case "open":
		if time.Since(state.OpenedAt) >= c.cooldown {
			state.State = "half_open"
			if err := c.b.CircuitSet(state); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	default:
		return true, nil
	}
}

// RecordSuccess closes the circuit and resets the consecutive-failure count.
func (c *CircuitBreaker) RecordSuccess() error {
	state, err := c.b.CircuitGet(c.provider)
	if err != nil {
		return err
	}
	if state.State == "closed" && state.ConsecutiveFailures == 0 {
		return nil
	}
	state.State = "closed"
	state.ConsecutiveFailures = 0
	return c.b.CircuitSet(state)
}

// RecordFailure increments the consecutive-failure count and opens the
// circuit once it crosses the configured threshold.
func (c *CircuitBreaker) RecordFailure() error {
	state, err := c.b.CircuitGet(c.provider)
	if err != nil {
		return err
	}
	state.ConsecutiveFailures++
	if state.ConsecutiveFailures >= c.failureThreshold {
		state.State = "open"
		state.OpenedAt = time.Now()
	}
	return c.b.CircuitSet(state)
}
