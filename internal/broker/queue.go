package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Queues is the fixed set of logically independent queues the pipeline
// moves jobs through, in processing order.
var Queues = []string{"scrape_intake", "llm", "validator", "reconciler"}

func queueBucket(queue string) string { return "queue_" + queue }
func dlqBucket(queue string) string   { return "dlq_" + queue }

// EnqueueOptions customises one enqueue call.
type EnqueueOptions struct {
	// JobID makes the enqueue idempotent: re-enqueuing the same JobID within
	// the visibility window yields one delivery, not two.
	JobID string
	// Priority is reserved for future use; all jobs are currently FIFO by
	// EnqueuedAt within a queue.
	Priority int
	// Delay postpones the job's first visibility by the given duration.
	Delay time.Duration
}

// item is the on-disk representation of one queued job.
type item struct {
	JobID       string    `json:"job_id"`
	Payload     []byte    `json:"payload"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	VisibleAt   time.Time `json:"visible_at"`
	Attempts    int       `json:"attempts"`
	Holder      string    `json:"holder,omitempty"`
	HolderToken string    `json:"holder_token,omitempty"`
}

// Handle identifies one in-flight dequeued job. It is required by Ack, Nack,
// and MoveToDLQ to prove the caller actually holds the job.
type Handle struct {
	Queue    string
	JobID    string
	Token    string
	Attempts int
}

// Enqueue inserts payload onto queue. If opts.JobID is empty a random id is
// not generated here — callers (which already know the job's canonical id,
// e.g. the content hash or LLMJob id) are expected to supply one; this keeps
// enqueue idempotent by construction rather than by accident.
func (b *Broker) Enqueue(queue string, payload []byte, opts EnqueueOptions) error {
	if opts.JobID == "" {
		return fmt.Errorf("broker: enqueue: job id is required")
	}

	now := time.Now()
	it := item{
		JobID:      opts.JobID,
		Payload:    payload,
		EnqueuedAt: now,
		VisibleAt:  now.Add(opts.Delay),
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(queueBucket(queue)))
		if bkt == nil {
			return fmt.Errorf("broker: unknown queue %q", queue)
		}
		// Idempotent: if the job is already present (pending or in-flight),
		// leave it untouched rather than resetting its visibility/attempts.
		if existing := bkt.Get([]byte(opts.JobID)); existing != nil {
			return nil
		}
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("broker: marshal item: %w", err)
		}
		return bkt.Put([]byte(opts.JobID), data)
	})
}

// Dequeue returns the earliest-visible job on queue, or ok=false if none is
// currently visible. The returned Handle must be passed to Ack, Nack, or
// MoveToDLQ. visibilityTimeout controls how long the job stays invisible to
// other dequeuers before it is eligible for redelivery.
func (b *Broker) Dequeue(queue, workerID string, visibilityTimeout time.Duration) (Handle, []byte, bool, error) {
	var (
		handle  Handle
		payload []byte
		found   bool
	)

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(queueBucket(queue)))
		if bkt == nil {
			return fmt.Errorf("broker: unknown queue %q", queue)
		}

		now := time.Now()
		c := bkt.Cursor()
		var bestKey []byte
		var best item

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var it item
			if err := json.Unmarshal(v, &it); err != nil {
				continue
			}
			if it.VisibleAt.After(now) {
				continue
			}
			if bestKey == nil || it.EnqueuedAt.Before(best.EnqueuedAt) {
				// Copy the key: bolt's cursor key slice is only valid for the
				// life of the transaction.
				bestKey = append([]byte(nil), k...)
				best = it
			}
		}

		if bestKey == nil {
			return nil
		}

		best.Holder = workerID
		best.HolderToken = fmt.Sprintf("%s-%d", workerID, now.UnixNano())
		best.Attempts++
		best.VisibleAt = now.Add(visibilityTimeout)

		data, err := json.Marshal(best)
		if err != nil {
			return fmt.Errorf("broker: marshal item: %w", err)
		}
		if err := bkt.Put(bestKey, data); err != nil {
			return err
		}

		handle = Handle{Queue: queue, JobID: best.JobID, Token: best.HolderToken, Attempts: best.Attempts}
		payload = append([]byte(nil), best.Payload...)
		found = true
		return nil
	})

	return handle, payload, found, err
}

// Ack removes the job permanently; it completed successfully.
func (b *Broker) Ack(h Handle) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(queueBucket(h.Queue)))
		if bkt == nil {
			return fmt.Errorf("broker: unknown queue %q", h.Queue)
		}
		return bkt.Delete([]byte(h.JobID))
	})
}

// NackOptions customises a Nack call.
type NackOptions struct {
	// Requeue, if false, leaves the job where it is but still releases the
	// holder, making it immediately eligible for redelivery after Delay.
	Requeue bool
	Delay   time.Duration
}

// Nack releases the job back onto its queue, visible again after opts.Delay.
// Unacked handles also auto-nack on visibility expiry without this call ever
// being made, by construction of Dequeue's visibility check.
func (b *Broker) Nack(h Handle, opts NackOptions) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(queueBucket(h.Queue)))
		if bkt == nil {
			return fmt.Errorf("broker: unknown queue %q", h.Queue)
		}
		raw := bkt.Get([]byte(h.JobID))
		if raw == nil {
			return nil // already acked or moved to DLQ concurrently
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return fmt.Errorf("broker: unmarshal item: %w", err)
		}
		if it.HolderToken != h.Token {
			return fmt.Errorf("broker: nack: handle token mismatch for job %s", h.JobID)
		}
		it.Holder = ""
		it.HolderToken = ""
		it.VisibleAt = time.Now().Add(opts.Delay)
		data, err := json.Marshal(it)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(h.JobID), data)
	})
}

// MoveToDLQ removes the job from its queue and records it, with reason, in
// the queue's dead-letter bucket after the caller has exhausted retries.
func (b *Broker) MoveToDLQ(h Handle, reason string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		src := tx.Bucket([]byte(queueBucket(h.Queue)))
		dst := tx.Bucket([]byte(dlqBucket(h.Queue)))
		if src == nil || dst == nil {
			return fmt.Errorf("broker: unknown queue %q", h.Queue)
		}
		raw := src.Get([]byte(h.JobID))
		if raw == nil {
			return nil
		}
		var it item
		if err := json.Unmarshal(raw, &it); err != nil {
			return fmt.Errorf("broker: unmarshal item: %w", err)
		}
		dlqEntry := struct {
			item
			Reason   string    `json:"reason"`
			MovedAt  time.Time `json:"moved_at"`
		}{item: it, Reason: reason, MovedAt: time.Now()}

		data, err := json.Marshal(dlqEntry)
		if err != nil {
			return err
		}
		if err := dst.Put([]byte(h.JobID), data); err != nil {
			return err
		}
		return src.Delete([]byte(h.JobID))
	})
}

// Depth returns the number of jobs currently resident in queue (pending or
// in-flight), used by consumers to decide whether to apply backpressure.
func (b *Broker) Depth(queue string) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(queueBucket(queue)))
		if bkt == nil {
			return fmt.Errorf("broker: unknown queue %q", queue)
		}
		n = bkt.Stats().KeyN
		return nil
	})
	return n, err
}
