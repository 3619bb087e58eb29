package broker

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// cacheEntry is the on-disk shape of every cached value, regardless of
// namespace. ExpiresAt enforces the single shared TTL the specification
// requires ("one TTL across the system, no competing namespaces") — callers
// pick the TTL, the cache itself is namespace-agnostic.
type cacheEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheGet returns the value stored under key in the given namespace (e.g.
// "geocode:"), or ok=false if absent or expired. Expired entries are never
// deleted: one stays in the bucket until a later CacheSet of the same key
// overwrites it.
func (b *Broker) CacheGet(namespace, key string) ([]byte, bool, error) {
	var (
		value []byte
		ok    bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketCache))
		raw := bkt.Get([]byte(namespace + key))
		if raw == nil {
			return nil
		}
		var entry cacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if time.Now().After(entry.ExpiresAt) {
			return nil
		}
		value = append([]byte(nil), entry.Value...)
		ok = true
		return nil
	})
	return value, ok, err
}

// CacheSet stores value under key in namespace with the given TTL.
func (b *Broker) CacheSet(namespace, key string, value []byte, ttl time.Duration) error {
	entry := cacheEntry{Value: value, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucketCache))
		return bkt.Put([]byte(namespace+key), data)
	})
}
