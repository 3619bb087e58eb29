package broker

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// CircuitState is the broker-resident state of one geocoder provider's
// circuit breaker, shared across every worker so that a tripped circuit is
// immediately visible process-wide rather than per-goroutine.
type CircuitState struct {
	Provider             string    `json:"provider"`
	State                string    `json:"state"` // closed, open, half_open
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	OpenedAt             time.Time `json:"opened_at"`
}

// CircuitGet returns the current circuit state for provider, defaulting to
// closed with no recorded failures.
func (b *Broker) CircuitGet(provider string) (CircuitState, error) {
	state := CircuitState{Provider: provider, State: "closed"}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketCircuit))
		raw := bkt.Get([]byte(provider))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &state)
	})
	return state, err
}

// CircuitSet persists the circuit state for provider.
func (b *Broker) CircuitSet(state CircuitState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketCircuit))
		return bkt.Put([]byte(state.Provider), data)
	})
}
