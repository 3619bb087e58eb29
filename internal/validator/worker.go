package validator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/coordutil"
	"github.com/foodatlas/pipeline/internal/db"
	"github.com/foodatlas/pipeline/internal/model"
)

const visibilityTimeout = 2 * time.Minute

// Worker dequeues AlignedRecords from "validator", scores them, enriches
// coordinates when needed, and forwards accepted records to "reconciler".
// Rejections are persisted and acked — a business-rejection is an expected
// terminal outcome, not a failure.
type Worker struct {
	ID        string
	Broker    *broker.Broker
	DB        *gorm.DB
	Enricher  *Enricher
	Threshold int
	LegacyPermissiveStateCheck bool
	Log       *zap.Logger
}

// Run loops dequeue -> process -> ack until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handle, raw, ok, err := w.Broker.Dequeue("validator", w.ID, visibilityTimeout)
		if err != nil {
			w.Log.Error("validator worker: dequeue failed", zap.Error(err))
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
	var record model.AlignedRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		w.Log.Error("validator worker: malformed record", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "malformed record: "+err.Error())
		return
	}
	log := w.Log.With(zap.String("job_id", record.JobID))

	enriched, err := w.Enricher.Enrich(ctx, record)
	if err != nil {
		log.Warn("validator worker: enrichment failed, scoring without coordinates", zap.Error(err))
	}

	addressState := ""
	if record.Location != nil {
		addressState = coordutil.NormalizeState(record.Location.StateCode)
	}

	score, outcomes, isTestData := Score(Input{
		Record:           record,
		Latitude:         enriched.Latitude,
		Longitude:        enriched.Longitude,
		HasCoordinates:   enriched.HasCoordinates,
		GeocodePrecision: enriched.GeocodePrecision,
		AddressState:     addressState,
		CoordinateState:  enriched.CoordinateState,
		LegacyPermissiveStateCheck: w.LegacyPermissiveStateCheck,
	})

	stateCode := addressState
	if enriched.CoordinateState != "" && addressState != enriched.CoordinateState && !w.LegacyPermissiveStateCheck {
		stateCode = enriched.CoordinateState
	}

	accepted := Accepted(score, w.Threshold, isTestData)

	result := model.ValidationResult{
		JobID:            record.JobID,
		Score:            score,
		Accepted:         accepted,
		IsTestData:       isTestData,
		RuleOutcomes:     outcomes,
		Latitude:         enriched.Latitude,
		Longitude:        enriched.Longitude,
		GeocodeProvider:  enriched.GeocodeProvider,
		GeocodePrecision: enriched.GeocodePrecision,
		StateCode:        stateCode,
		Record:           record,
	}

	if !accepted {
		w.persistRejection(ctx, record, result, log)
		_ = w.Broker.Ack(handle)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		log.Error("validator worker: failed to marshal validation result", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}
	if err := w.Broker.Enqueue("reconciler", data, broker.EnqueueOptions{JobID: record.JobID}); err != nil {
		log.Error("validator worker: enqueue reconciler failed", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}
	if err := w.Broker.Ack(handle); err != nil {
		log.Error("validator worker: ack failed", zap.Error(err))
	}
}

func (w *Worker) persistRejection(ctx context.Context, record model.AlignedRecord, result model.ValidationResult, log *zap.Logger) {
	outcomesJSON, err := json.Marshal(result.RuleOutcomes)
	if err != nil {
		log.Error("validator worker: failed to marshal rule outcomes", zap.Error(err))
		outcomesJSON = []byte("[]")
	}

	jobID, err := uuid.Parse(record.JobID)
	if err != nil {
		jobID = uuid.Nil
	}

	rejection := db.RejectionRecord{
		JobID:        jobID,
		ContentHash:  record.ContentHash,
		Score:        result.Score,
		RuleOutcomes: string(outcomesJSON),
		IsTestData:   result.IsTestData,
		RejectedAt:   time.Now(),
	}
	if err := w.DB.WithContext(ctx).Create(&rejection).Error; err != nil {
		log.Error("validator worker: failed to persist rejection", zap.Error(err))
	}
	log.Info("validator worker: record rejected", zap.Int("score", result.Score), zap.Bool("is_test_data", result.IsTestData))
}
