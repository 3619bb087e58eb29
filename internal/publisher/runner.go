package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/db"
	"github.com/foodatlas/pipeline/internal/reconciler"
)

// Runner executes one publish cycle: snapshot, ratchet check, artifact
// generation, and git export, recording its outcome as a db.PublisherRun.
type Runner struct {
	DB             *gorm.DB
	OutputDir      string
	GitRepoPath    string
	GitRemote      string
	RatchetFraction float64
	Log            *zap.Logger
}

// publisherLockKey is the single match-key every publish cycle contends on,
// enforcing the single-writer invariant via the same row-based advisory
// lock the reconciler uses for canonical entities.
const publisherLockKey = "global"

// Run executes exactly one publish cycle. A concurrent Run (e.g. a manual
// trigger overlapping a scheduled tick) fails fast with a lock error rather
// than racing on the output directory.
func (r *Runner) Run(ctx context.Context) error {
	run := db.PublisherRun{StartedAt: time.Now(), Status: "running"}
	if err := r.DB.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("publisher: failed to record run start: %w", err)
	}

	err := r.runLocked(ctx, &run)
	finished := time.Now()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = "failed"
		if _, ok := err.(*ErrRatchetViolation); ok {
			run.Status = "aborted_ratchet"
		}
		run.FailureReason = err.Error()
	} else {
		run.Status = "succeeded"
	}
	if saveErr := r.DB.WithContext(ctx).Save(&run).Error; saveErr != nil {
		r.Log.Error("publisher: failed to record run outcome", zap.Error(saveErr))
	}
	return err
}

func (r *Runner) runLocked(ctx context.Context, run *db.PublisherRun) error {
	var previous db.PublisherRun
	highWater := map[string]int64{}
	err := r.DB.WithContext(ctx).Where("status = ? AND id != ?", "succeeded", run.ID).Order("finished_at desc").Take(&previous).Error
	if err == nil {
		_ = json.Unmarshal([]byte(previous.RatchetHighWater), &highWater)
	} else if err != gorm.ErrRecordNotFound {
		return err
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return reconciler.AcquireLock(ctx, tx, "publisher", publisherLockKey, run.ID.String())
	})
	if err != nil {
		return fmt.Errorf("publisher: could not acquire publish lock: %w", err)
	}

	snap, err := readSnapshot(ctx, r.DB)
	if err != nil {
		return fmt.Errorf("publisher: snapshot read failed: %w", err)
	}

	counts := snap.rowCounts()
	nextHighWater, err := checkRatchet(counts, highWater, r.RatchetFraction)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return fmt.Errorf("publisher: failed to create output dir: %w", err)
	}
	if err := writeJSONLArtifacts(r.OutputDir, snap); err != nil {
		return err
	}
	if err := writeGeoJSON(r.OutputDir, snap); err != nil {
		return err
	}
	if err := writeSQLiteSnapshot(r.OutputDir, snap); err != nil {
		return err
	}

	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	highWaterJSON, err := json.Marshal(nextHighWater)
	if err != nil {
		return err
	}
	run.RowCounts = string(countsJSON)
	run.RatchetHighWater = string(highWaterJSON)

	if r.GitRepoPath != "" {
		sha, err := gitExport(ctx, r.GitRepoPath, r.GitRemote, fmt.Sprintf("publish: %s", time.Now().UTC().Format(time.RFC3339)))
		if err != nil {
			return fmt.Errorf("publisher: git export failed: %w", err)
		}
		run.CommitSHA = sha
	}

	r.Log.Info("publish cycle succeeded",
		zap.Int64("organizations", counts["organizations"]),
		zap.Int64("locations", counts["locations"]),
		zap.Int64("services", counts["services"]),
		zap.String("commit_sha", run.CommitSHA),
	)
	return nil
}
