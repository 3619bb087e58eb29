package broker

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// QuotaState is the broker-resident, per-provider quota back-off flag. All
// workers consult it before issuing a provider call; any worker that
// observes QuotaExceeded sets it for every other worker to see.
type QuotaState struct {
	Provider          string    `json:"provider"`
	BlockedUntil      time.Time `json:"blocked_until"`
	BackoffMultiplier float64   `json:"backoff_multiplier"`
}

// QuotaGet returns the current quota state for provider. A provider with no
// recorded state is never blocked (zero value, BlockedUntil in the past).
func (b *Broker) QuotaGet(provider string) (QuotaState, error) {
	state := QuotaState{Provider: provider, BackoffMultiplier: 1}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketQuota))
		raw := bkt.Get([]byte(provider))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &state)
	})
	return state, err
}

// QuotaSet persists the quota state for provider, overwriting any previous
// value. Callers compute the compounded backoff multiplier before calling.
func (b *Broker) QuotaSet(state QuotaState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketQuota))
		return bkt.Put([]byte(state.Provider), data)
	})
}
