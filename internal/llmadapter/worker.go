package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/contentstore"
)

// JobPayload is what the scrape_intake worker (internal/intake) enqueues onto
// "llm": enough for the worker to fetch the raw bytes, run the adapter, and
// re-attach source provenance to the resulting AlignedRecord.
type JobPayload struct {
	JobID       string `json:"job_id"`
	ContentHash string `json:"content_hash"`
	SourceURL   string `json:"source_url"`
	ScraperID   string `json:"scraper_id"`
}

const (
	maxMalformedAttempts = 3
	visibilityTimeout     = 2 * time.Minute
)

// Worker dequeues from "llm", consults the quota gate, runs the adapter, and
// forwards accepted output to "validator".
type Worker struct {
	ID          string
	Broker      *broker.Broker
	Store       *contentstore.Store
	Blobs       *contentstore.BlobStore
	Adapter     *Adapter
	Quota       *QuotaGate
	Log         *zap.Logger
}

// Run loops dequeue -> process -> ack until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handle, raw, ok, err := w.Broker.Dequeue("llm", w.ID, visibilityTimeout)
		if err != nil {
			w.Log.Error("llm worker: dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		w.process(ctx, handle, raw)
	}
}

func (w *Worker) process(ctx context.Context, handle broker.Handle, raw []byte) {
	var job JobPayload
	if err := json.Unmarshal(raw, &job); err != nil {
		w.Log.Error("llm worker: malformed job payload", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "malformed job payload: "+err.Error())
		return
	}
	log := w.Log.With(zap.String("job_id", job.JobID), zap.String("content_hash", job.ContentHash))

	if blocked, err := w.Quota.BlockedFor(); err == nil && blocked > 0 {
		log.Info("llm worker: provider quota blocked, sleeping instead of calling out", zap.Duration("blocked_for", blocked))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: blocked})
		return
	}

	rawBytes, err := w.Blobs.Read(job.ContentHash)
	if err != nil {
		log.Error("llm worker: failed to read blob", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "blob read failed: "+err.Error())
		return
	}

	record, err := w.Adapter.Align(ctx, job.JobID, job.ContentHash, string(rawBytes), job.SourceURL, job.ScraperID)
	if err != nil {
		w.handleAlignError(ctx, handle, job, log, err)
		return
	}
	_ = w.Quota.Reset()

	data, err := json.Marshal(record)
	if err != nil {
		log.Error("llm worker: failed to marshal aligned record", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "marshal failed: "+err.Error())
		return
	}
	outputRef := "aligned/" + job.ContentHash
	if err := w.Blobs.Write(outputRef, data); err != nil {
		log.Error("llm worker: failed to persist aligned record", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}

	jobUUID, err := uuid.Parse(job.JobID)
	if err == nil {
		if err := w.Store.MarkCompleted(ctx, jobUUID, outputRef); err != nil {
			log.Error("llm worker: mark_completed failed", zap.Error(err))
		}
	}

	if err := w.Broker.Enqueue("validator", data, broker.EnqueueOptions{JobID: job.JobID}); err != nil {
		log.Error("llm worker: failed to enqueue validator job", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}

	if err := w.Broker.Ack(handle); err != nil {
		log.Error("llm worker: ack failed", zap.Error(err))
	}
}

func (w *Worker) handleAlignError(ctx context.Context, handle broker.Handle, job JobPayload, log *zap.Logger, err error) {
	switch e := err.(type) {
	case *QuotaExceededError:
		log.Warn("llm worker: quota exceeded", zap.Duration("retry_after", e.RetryAfter))
		_ = w.Quota.RecordQuotaExceeded(e.RetryAfter)
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: e.RetryAfter})

	case *ProviderTransientError, *TimeoutError:
		log.Warn("llm worker: transient provider error, will retry", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: 5 * time.Second})

	case *MalformedOutputError, *SchemaViolationError:
		if handle.Attempts < maxMalformedAttempts {
			log.Warn("llm worker: malformed/schema-violating output, retrying", zap.Error(err), zap.Int("attempt", handle.Attempts))
			_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
			return
		}
		log.Warn("llm worker: malformed/schema-violating output, attempts exhausted", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, err.Error())

	case *ProviderPermanentError:
		log.Error("llm worker: permanent provider error", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, err.Error())

	default:
		log.Error("llm worker: unclassified error", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: 5 * time.Second})
	}
}
