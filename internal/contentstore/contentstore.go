// Package contentstore enforces "each unique payload is processed at most
// once." It owns the RawPayload lifecycle exclusively: every other component
// only ever observes a RawPayload's status, never mutates it directly.
package contentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/db"
)

// SourceMetadata accompanies every submitted payload, per the inbound
// scraper contract.
type SourceMetadata struct {
	ScraperID string
	SourceURL string
	ScrapedAt time.Time
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	JobID uuid.UUID
	// WasNew is true if this submission created a brand new RawPayload row.
	// Callers use it to decide whether to enqueue the job onto "llm".
	WasNew bool
}

// ErrIllegalTransition is returned when a status mutation does not follow
// new -> pending -> {completed, failed}.
var ErrIllegalTransition = errors.New("contentstore: illegal status transition")

// Store is the content store's repository layer plus blob directory.
type Store struct {
	gdb   *gorm.DB
	blobs *BlobStore
}

// New returns a Store backed by gdb for the index and root for blob bytes.
func New(gdb *gorm.DB, root string) *Store {
	return &Store{gdb: gdb, blobs: NewBlobStore(root)}
}

// Submit computes h = sha256(raw) and, in a single atomic transaction,
// returns the existing job for h with WasNew=false when its status is
// "pending" or "completed"; resets a "new" or "failed" record to "new" and
// returns its existing job id with WasNew=true; or, when h is unknown,
// inserts a new "new" record with a freshly generated job id (WasNew=true). The raw bytes
// are always persisted to the blob directory, even on a duplicate
// submission, since blob writes are naturally idempotent (same hash, same
// content).
func (s *Store) Submit(ctx context.Context, raw []byte, meta SourceMetadata) (SubmitResult, error) {
	h := hashBytes(raw)

	if err := s.blobs.Write(h, raw); err != nil {
		return SubmitResult{}, fmt.Errorf("contentstore: write blob: %w", err)
	}

	var result SubmitResult
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing db.RawPayload
		err := tx.Where("hash = ?", h).Take(&existing).Error
		switch {
		case err == nil:
			if existing.Status == "pending" || existing.Status == "completed" {
				result = SubmitResult{JobID: existing.JobID, WasNew: false}
				return nil
			}
			// status == "new" or "failed": treat as not-yet-processed, fall
			// through and resubmit with the same job id already on record.
			result = SubmitResult{JobID: existing.JobID, WasNew: true}
			return tx.Model(&existing).Updates(map[string]interface{}{
				"status":     "new",
				"error_kind": "",
			}).Error

		case errors.Is(err, gorm.ErrRecordNotFound):
			jobID, genErr := uuid.NewV7()
			if genErr != nil {
				return genErr
			}
			payload := db.RawPayload{
				Hash:      h,
				JobID:     jobID,
				ScraperID: meta.ScraperID,
				SourceURL: meta.SourceURL,
				ScrapedAt: meta.ScrapedAt,
				Status:    "new",
				ByteSize:  int64(len(raw)),
			}
			if createErr := tx.Create(&payload).Error; createErr != nil {
				return fmt.Errorf("create raw payload: %w", createErr)
			}
			result = SubmitResult{JobID: jobID, WasNew: true}
			return nil

		default:
			return err
		}
	})
	if err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}

// MarkPending transitions a "new" payload to "pending" once it has been
// enqueued onto the llm queue.
func (s *Store) MarkPending(ctx context.Context, jobID uuid.UUID) error {
	return s.transition(ctx, jobID, []string{"new"}, map[string]interface{}{"status": "pending"})
}

// MarkCompleted transitions a "pending" payload to "completed" and records
// where its AlignedRecord output was written in the content store.
func (s *Store) MarkCompleted(ctx context.Context, jobID uuid.UUID, outputRef string) error {
	return s.transition(ctx, jobID, []string{"pending"}, map[string]interface{}{
		"status":     "completed",
		"output_ref": outputRef,
	})
}

// MarkFailed transitions a "pending" payload to "failed" with the error kind
// that caused the failure (see the error taxonomy in internal/pipelineerr).
func (s *Store) MarkFailed(ctx context.Context, jobID uuid.UUID, errorKind string) error {
	return s.transition(ctx, jobID, []string{"pending"}, map[string]interface{}{
		"status":     "failed",
		"error_kind": errorKind,
	})
}

// ClearJob is the recovery path for a crash between Submit returning
// WasNew=true and the downstream enqueue succeeding: it returns the record
// to "new" so the next submission of the same bytes retries the enqueue.
func (s *Store) ClearJob(ctx context.Context, hash string) error {
	return s.gdb.WithContext(ctx).Model(&db.RawPayload{}).
		Where("hash = ?", hash).
		Updates(map[string]interface{}{"status": "new", "error_kind": ""}).Error
}

func (s *Store) transition(ctx context.Context, jobID uuid.UUID, fromStatuses []string, updates map[string]interface{}) error {
	res := s.gdb.WithContext(ctx).Model(&db.RawPayload{}).
		Where("job_id = ? AND status IN ?", jobID, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s not in %v", ErrIllegalTransition, jobID, fromStatuses)
	}
	return nil
}

// Stats is the read-only aggregation returned by the stats() operation.
type Stats struct {
	Total    int64
	ByStatus map[string]int64
	ByteSize int64
}

// Stats aggregates counts and total byte size across every known payload.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Status string
		N      int64
		Bytes  int64
	}
	if err := s.gdb.WithContext(ctx).Model(&db.RawPayload{}).
		Select("status, count(*) as n, sum(byte_size) as bytes").
		Group("status").Scan(&rows).Error; err != nil {
		return Stats{}, err
	}

	out := Stats{ByStatus: make(map[string]int64, len(rows))}
	for _, r := range rows {
		out.Total += r.N
		out.ByStatus[r.Status] = r.N
		out.ByteSize += r.Bytes
	}
	return out, nil
}

func hashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
