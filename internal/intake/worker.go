// Package intake implements the scrape_intake consumer: the first queue
// stage a submitted payload passes through, ahead of LLM alignment. It
// exists as its own package, rather than living in internal/contentstore,
// because it needs both contentstore.Store and llmadapter.JobPayload, and
// internal/llmadapter already imports internal/contentstore.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/contentstore"
	"github.com/foodatlas/pipeline/internal/llmadapter"
)

const visibilityTimeout = 2 * time.Minute

// Payload is what pipeline-submit enqueues onto "scrape_intake": the raw
// scraped bytes plus the source attribution scrapers are required to
// supply, deferred here rather than submitted to the content store inline
// so a submit-time outage never blocks the scraper process making the call.
type Payload struct {
	Raw       []byte    `json:"raw"`
	ScraperID string    `json:"scraper_id"`
	SourceURL string    `json:"source_url"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Worker dequeues from "scrape_intake", submits the payload to the content
// store, and — for genuinely new content — forwards an LLM alignment job
// onto "llm". Duplicate submissions are acked without forwarding anything.
type Worker struct {
	ID     string
	Broker *broker.Broker
	Store  *contentstore.Store
	Log    *zap.Logger
}

// Run loops dequeue -> process -> ack until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handle, raw, ok, err := w.Broker.Dequeue("scrape_intake", w.ID, visibilityTimeout)
		if err != nil {
			w.Log.Error("intake worker: dequeue failed", zap.Error(err))
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
	var job Payload
	if err := json.Unmarshal(raw, &job); err != nil {
		w.Log.Error("intake worker: malformed intake payload", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "malformed intake payload: "+err.Error())
		return
	}
	log := w.Log.With(zap.String("scraper_id", job.ScraperID), zap.String("source_url", job.SourceURL))

	result, err := w.Store.Submit(ctx, job.Raw, contentstore.SourceMetadata{
		ScraperID: job.ScraperID,
		SourceURL: job.SourceURL,
		ScrapedAt: job.ScrapedAt,
	})
	if err != nil {
		log.Error("intake worker: submit failed, will retry", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}

	if !result.WasNew {
		log.Info("intake worker: duplicate payload, not forwarding", zap.String("job_id", result.JobID.String()))
		if err := w.Broker.Ack(handle); err != nil {
			log.Error("intake worker: ack failed", zap.Error(err))
		}
		return
	}

	hash := sha256.Sum256(job.Raw)
	llmJob := llmadapter.JobPayload{
		JobID:       result.JobID.String(),
		ContentHash: hex.EncodeToString(hash[:]),
		SourceURL:   job.SourceURL,
		ScraperID:   job.ScraperID,
	}
	data, err := json.Marshal(llmJob)
	if err != nil {
		log.Error("intake worker: failed to marshal llm job payload", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "marshal failed: "+err.Error())
		return
	}

	if err := w.Broker.Enqueue("llm", data, broker.EnqueueOptions{JobID: llmJob.JobID}); err != nil {
		log.Error("intake worker: failed to enqueue llm job, will retry", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}

	if err := w.Store.MarkPending(ctx, result.JobID); err != nil {
		log.Warn("intake worker: failed to mark payload pending", zap.Error(err))
	}

	if err := w.Broker.Ack(handle); err != nil {
		log.Error("intake worker: ack failed", zap.Error(err))
	}
}
