// Package broker is the pipeline's shared, cross-process coordination store.
// No message-broker client (redis, kafka, nsq, amqp) appears anywhere in the
// example corpus; the only embedded-store dependency found in the retrieved
// pack is go.etcd.io/bbolt, used by cuemby-warren's pkg/storage. The Queue
// Substrate and every KV surface the specification assigns to "the broker"
// (geocode cache, LLM quota flags, geocoder circuit state) are implemented
// here as named buckets in a single bbolt file, following the same
// bucket-per-concern, db.Update/db.View idiom cuemby-warren's BoltStore uses.
package broker

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Broker wraps a single bbolt database file shared by every worker in a
// process. A bbolt file permits one writer at a time across the whole
// process, mirroring the "broker connection pool... shared across all
// workers in a process" requirement without introducing a second store.
type Broker struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt file at path and ensures the
// buckets every pipeline component expects exist.
func Open(path string) (*Broker, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("broker: open %s: %w", path, err)
	}

	b := &Broker{db: db}
	if err := b.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) init() error {
	buckets := []string{bucketCache, bucketQuota, bucketCircuit}
	for _, q := range Queues {
		buckets = append(buckets, queueBucket(q), dlqBucket(q))
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("broker: create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close releases the underlying bbolt file handle.
func (b *Broker) Close() error {
	return b.db.Close()
}

const (
	bucketCache   = "cache"
	bucketQuota   = "quota"
	bucketCircuit = "circuit"
)
