package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/db"
	"github.com/foodatlas/pipeline/internal/model"
	"github.com/foodatlas/pipeline/internal/retry"
)

const visibilityTimeout = 2 * time.Minute

// constraintAttempts/constraintBase/constraintBackoff bound the retry of the
// whole reconcile transaction against a concurrent writer's conflicting
// advisory lock or unique-constraint violation — these are expected under
// contention, not failures.
const (
	constraintAttempts = 3
	constraintBase     = 100 * time.Millisecond
	constraintBackoff  = 2.0
)

// Worker dequeues accepted ValidationResults from "reconciler" and folds
// each into the canonical store: matching or creating the organization,
// location, and services, merging fields across sources, and recording the
// source attribution and version trail.
type Worker struct {
	ID             string
	Broker         *broker.Broker
	DB             *gorm.DB
	SourcePriority []string
	// NameSimilarityThreshold and LocationRadiusMeters are the matcher's
	// fuzzy-match cutoffs, configured via config.Config.ReconcilerNameSimilarity
	// and config.Config.ReconcilerLocationEpsilonM.
	NameSimilarityThreshold float64
	LocationRadiusMeters    float64
	Log                     *zap.Logger
}

// Run loops dequeue -> reconcile -> ack until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		handle, raw, ok, err := w.Broker.Dequeue("reconciler", w.ID, visibilityTimeout)
		if err != nil {
			w.Log.Error("reconciler worker: dequeue failed", zap.Error(err))
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
	var result model.ValidationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		w.Log.Error("reconciler worker: malformed validation result", zap.Error(err))
		_ = w.Broker.MoveToDLQ(handle, "malformed validation result: "+err.Error())
		return
	}
	log := w.Log.With(zap.String("job_id", result.JobID))

	err := retry.Do(ctx, constraintAttempts, constraintBase, constraintBackoff, isConstraintViolation, func(ctx context.Context) error {
		return w.reconcile(ctx, result)
	})
	if err != nil {
		if errors.Is(err, errIntegrity) {
			_ = w.Broker.MoveToDLQ(handle, "integrity violation: "+err.Error())
			return
		}
		log.Error("reconciler worker: reconcile failed, will retry", zap.Error(err))
		_ = w.Broker.Nack(handle, broker.NackOptions{Requeue: true, Delay: time.Second})
		return
	}

	if err := w.Broker.Ack(handle); err != nil {
		log.Error("reconciler worker: ack failed", zap.Error(err))
	}
}

var errIntegrity = errors.New("reconciler: integrity violation")

func isConstraintViolation(err error) bool {
	return !errors.Is(err, errIntegrity)
}

func (w *Worker) reconcile(ctx context.Context, result model.ValidationResult) error {
	record := result.Record
	if record.Organization.Name == "" {
		return fmt.Errorf("%w: organization.name is empty", errIntegrity)
	}

	return w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := w.reconcileOrganization(ctx, tx, record)
		if err != nil {
			return err
		}

		var locationID *uuid.UUID
		if record.Location != nil {
			loc, err := w.reconcileLocation(ctx, tx, record, org.ID, result)
			if err != nil {
				return err
			}
			locationID = &loc.ID
		}

		for _, svc := range record.Services {
			svcRow, err := w.reconcileService(ctx, tx, record, org.ID, svc)
			if err != nil {
				return err
			}
			if locationID != nil {
				if err := w.ensureServiceAtLocation(ctx, tx, svcRow.ID, *locationID); err != nil {
					return err
				}
			}
		}

		return nil
	})
}

func (w *Worker) reconcileOrganization(ctx context.Context, tx *gorm.DB, record model.AlignedRecord) (*db.CanonicalOrganization, error) {
	sourceEntityID := record.Organization.SourceOrgID
	if sourceEntityID == "" {
		sourceEntityID = normalizeName(record.Organization.Name)
	}

	match, err := MatchOrganization(ctx, tx, record.ScraperID, sourceEntityID, record.Organization.Name, w.NameSimilarityThreshold)
	if err != nil {
		return nil, err
	}

	if err := AcquireLock(ctx, tx, "organization", normalizeName(record.Organization.Name), w.ID); err != nil {
		return nil, err
	}

	current := map[string]string{}
	if match != nil {
		current = map[string]string{
			"name":           match.Name,
			"alternate_name": match.AlternateName,
			"description":    match.Description,
			"email":          match.Email,
			"url":            match.URL,
			"tax_status":     match.TaxStatus,
		}
	}
	incoming := map[string][]FieldSource{
		"name":           {{Scraper: record.ScraperID, Value: record.Organization.Name, ReportedAt: time.Now()}},
		"alternate_name": {{Scraper: record.ScraperID, Value: record.Organization.AlternateName, ReportedAt: time.Now()}},
		"description":    {{Scraper: record.ScraperID, Value: record.Organization.Description, ReportedAt: time.Now()}},
		"email":          {{Scraper: record.ScraperID, Value: record.Organization.Email, ReportedAt: time.Now()}},
		"url":            {{Scraper: record.ScraperID, Value: record.Organization.URL, ReportedAt: time.Now()}},
		"tax_status":     {{Scraper: record.ScraperID, Value: record.Organization.TaxStatus, ReportedAt: time.Now()}},
	}
	if match != nil {
		historical, err := historicalOrganizationSources(tx, match.ID, record.ScraperID, sourceEntityID)
		if err != nil {
			return nil, err
		}
		mergeSources(incoming, historical)
	}
	next, changes := MergeFields(current, incoming, w.SourcePriority)

	var org db.CanonicalOrganization
	if match != nil {
		org = *match
	}
	org.Name = next["name"]
	org.NameNorm = normalizeName(next["name"])
	org.AlternateName = next["alternate_name"]
	org.Description = next["description"]
	org.Email = next["email"]
	org.URL = next["url"]
	org.TaxStatus = next["tax_status"]
	org.Active = true

	if match == nil {
		if err := tx.Create(&org).Error; err != nil {
			return nil, err
		}
	} else {
		if err := tx.Save(&org).Error; err != nil {
			return nil, err
		}
	}

	if err := recordSource(tx, "organization", org.ID, record.ScraperID, sourceEntityID, record.Organization); err != nil {
		return nil, err
	}
	if err := recordChanges(tx, "organization", org.ID, record.ScraperID, changes); err != nil {
		return nil, err
	}
	return &org, nil
}

func (w *Worker) reconcileLocation(ctx context.Context, tx *gorm.DB, record model.AlignedRecord, orgID uuid.UUID, result model.ValidationResult) (*db.CanonicalLocation, error) {
	loc := record.Location
	sourceEntityID := record.JobID + ":location"

	lat, lng := result.Latitude, result.Longitude
	match, err := MatchLocation(ctx, tx, record.ScraperID, sourceEntityID, orgID, loc.AddressLine1, lat, lng, w.NameSimilarityThreshold, w.LocationRadiusMeters)
	if err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("%s:%s", orgID, normalizeName(loc.AddressLine1))
	if err := AcquireLock(ctx, tx, "location", lockKey, w.ID); err != nil {
		return nil, err
	}

	current := map[string]string{}
	if match != nil {
		current = map[string]string{
			"name":           match.Name,
			"address_line_1": match.AddressLine1,
			"city":           match.City,
			"state_code":     match.StateCode,
			"postal_code":    match.PostalCode,
		}
	}
	now := time.Now()
	incoming := map[string][]FieldSource{
		"name":           {{Scraper: record.ScraperID, Value: loc.Name, ReportedAt: now}},
		"address_line_1": {{Scraper: record.ScraperID, Value: loc.AddressLine1, ReportedAt: now}},
		"city":           {{Scraper: record.ScraperID, Value: loc.City, ReportedAt: now}},
		"state_code":     {{Scraper: record.ScraperID, Value: result.StateCode, ReportedAt: now}},
		"postal_code":    {{Scraper: record.ScraperID, Value: loc.PostalCode, ReportedAt: now}},
	}
	if match != nil {
		historical, err := historicalLocationSources(tx, match.ID, record.ScraperID, sourceEntityID)
		if err != nil {
			return nil, err
		}
		mergeSources(incoming, historical)
	}
	next, changes := MergeFields(current, incoming, w.SourcePriority)

	var canonical db.CanonicalLocation
	if match != nil {
		canonical = *match
	}
	canonical.OrganizationID = orgID
	canonical.Name = next["name"]
	canonical.AddressLine1 = next["address_line_1"]
	canonical.City = next["city"]
	canonical.StateCode = next["state_code"]
	canonical.PostalCode = next["postal_code"]
	canonical.Latitude = lat
	canonical.Longitude = lng
	canonical.GeocodeProvider = result.GeocodeProvider
	canonical.GeocodePrecision = result.GeocodePrecision

	if match == nil {
		if err := tx.Create(&canonical).Error; err != nil {
			return nil, err
		}
	} else {
		if err := tx.Save(&canonical).Error; err != nil {
			return nil, err
		}
	}

	if err := recordSource(tx, "location", canonical.ID, record.ScraperID, sourceEntityID, loc); err != nil {
		return nil, err
	}
	if err := recordChanges(tx, "location", canonical.ID, record.ScraperID, changes); err != nil {
		return nil, err
	}
	return &canonical, nil
}

func (w *Worker) reconcileService(ctx context.Context, tx *gorm.DB, record model.AlignedRecord, orgID uuid.UUID, svc model.Service) (*db.CanonicalService, error) {
	sourceEntityID := record.JobID + ":service:" + normalizeName(svc.Name)

	match, err := MatchService(ctx, tx, record.ScraperID, sourceEntityID, orgID, svc.Name, w.NameSimilarityThreshold)
	if err != nil {
		return nil, err
	}

	lockKey := fmt.Sprintf("%s:%s", orgID, normalizeName(svc.Name))
	if err := AcquireLock(ctx, tx, "service", lockKey, w.ID); err != nil {
		return nil, err
	}

	current := map[string]string{}
	if match != nil {
		current = map[string]string{
			"name":        match.Name,
			"description": match.Description,
			"status":      match.Status,
		}
	}
	status := svc.Status
	if status == "" {
		status = "active"
	}
	now := time.Now()
	incoming := map[string][]FieldSource{
		"name":        {{Scraper: record.ScraperID, Value: svc.Name, ReportedAt: now}},
		"description": {{Scraper: record.ScraperID, Value: svc.Description, ReportedAt: now}},
		"status":      {{Scraper: record.ScraperID, Value: status, ReportedAt: now}},
	}
	if match != nil {
		historical, err := historicalServiceSources(tx, match.ID, record.ScraperID, sourceEntityID)
		if err != nil {
			return nil, err
		}
		mergeSources(incoming, historical)
	}
	next, changes := MergeFields(current, incoming, w.SourcePriority)

	var canonical db.CanonicalService
	if match != nil {
		canonical = *match
	}
	canonical.OrganizationID = orgID
	canonical.Name = next["name"]
	canonical.NameNorm = normalizeName(next["name"])
	canonical.Description = next["description"]
	canonical.Status = next["status"]

	if match == nil {
		if err := tx.Create(&canonical).Error; err != nil {
			return nil, err
		}
	} else {
		if err := tx.Save(&canonical).Error; err != nil {
			return nil, err
		}
	}

	if err := recordSource(tx, "service", canonical.ID, record.ScraperID, sourceEntityID, svc); err != nil {
		return nil, err
	}
	if err := recordChanges(tx, "service", canonical.ID, record.ScraperID, changes); err != nil {
		return nil, err
	}
	return &canonical, nil
}

func (w *Worker) ensureServiceAtLocation(ctx context.Context, tx *gorm.DB, serviceID, locationID uuid.UUID) error {
	var existing db.CanonicalServiceAtLocation
	err := tx.WithContext(ctx).Where("service_id = ? AND location_id = ?", serviceID, locationID).Take(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	join := db.CanonicalServiceAtLocation{ServiceID: serviceID, LocationID: locationID}
	return tx.Create(&join).Error
}

// historicalOrganizationSources, historicalLocationSources, and
// historicalServiceSources load every other scraper's last-reported fields
// for an already-matched canonical entity, so merge sees the full set of
// live contributions — not just the record being reconciled right now — and
// can apply majority vote across them. The reconciling scraper's own prior
// row for this source entity is excluded since it is about to be
// superseded by the incoming value.
func historicalOrganizationSources(tx *gorm.DB, canonicalID uuid.UUID, excludeScraperID, excludeSourceEntityID string) (map[string][]FieldSource, error) {
	rows, err := fetchSourceRecords(tx, "organization", canonicalID, excludeScraperID, excludeSourceEntityID)
	if err != nil {
		return nil, err
	}
	out := map[string][]FieldSource{}
	for _, rec := range rows {
		var org model.Organization
		if err := json.Unmarshal([]byte(rec.Fields), &org); err != nil {
			continue
		}
		appendFieldSource(out, "name", rec, org.Name)
		appendFieldSource(out, "alternate_name", rec, org.AlternateName)
		appendFieldSource(out, "description", rec, org.Description)
		appendFieldSource(out, "email", rec, org.Email)
		appendFieldSource(out, "url", rec, org.URL)
		appendFieldSource(out, "tax_status", rec, org.TaxStatus)
	}
	return out, nil
}

func historicalLocationSources(tx *gorm.DB, canonicalID uuid.UUID, excludeScraperID, excludeSourceEntityID string) (map[string][]FieldSource, error) {
	rows, err := fetchSourceRecords(tx, "location", canonicalID, excludeScraperID, excludeSourceEntityID)
	if err != nil {
		return nil, err
	}
	out := map[string][]FieldSource{}
	for _, rec := range rows {
		var loc model.Location
		if err := json.Unmarshal([]byte(rec.Fields), &loc); err != nil {
			continue
		}
		// model.Location's wire JSON tags (address_1, state_province) diverge
		// from the merge field names used throughout this package
		// (address_line_1, state_code); remap explicitly rather than reusing
		// the JSON keys.
		appendFieldSource(out, "name", rec, loc.Name)
		appendFieldSource(out, "address_line_1", rec, loc.AddressLine1)
		appendFieldSource(out, "city", rec, loc.City)
		appendFieldSource(out, "state_code", rec, loc.StateCode)
		appendFieldSource(out, "postal_code", rec, loc.PostalCode)
	}
	return out, nil
}

func historicalServiceSources(tx *gorm.DB, canonicalID uuid.UUID, excludeScraperID, excludeSourceEntityID string) (map[string][]FieldSource, error) {
	rows, err := fetchSourceRecords(tx, "service", canonicalID, excludeScraperID, excludeSourceEntityID)
	if err != nil {
		return nil, err
	}
	out := map[string][]FieldSource{}
	for _, rec := range rows {
		var svc model.Service
		if err := json.Unmarshal([]byte(rec.Fields), &svc); err != nil {
			continue
		}
		appendFieldSource(out, "name", rec, svc.Name)
		appendFieldSource(out, "description", rec, svc.Description)
		appendFieldSource(out, "status", rec, svc.Status)
	}
	return out, nil
}

func fetchSourceRecords(tx *gorm.DB, entityKind string, canonicalID uuid.UUID, excludeScraperID, excludeSourceEntityID string) ([]db.SourceRecord, error) {
	var rows []db.SourceRecord
	err := tx.Where(
		"entity_kind = ? AND canonical_id = ? AND NOT (scraper_id = ? AND source_entity_id = ?)",
		entityKind, canonicalID, excludeScraperID, excludeSourceEntityID,
	).Find(&rows).Error
	return rows, err
}

func appendFieldSource(out map[string][]FieldSource, field string, rec db.SourceRecord, value string) {
	if value == "" {
		return
	}
	out[field] = append(out[field], FieldSource{Scraper: rec.ScraperID, Value: value, ReportedAt: rec.ReportedAt})
}

func mergeSources(incoming, historical map[string][]FieldSource) {
	for field, sources := range historical {
		incoming[field] = append(incoming[field], sources...)
	}
}

func recordSource(tx *gorm.DB, entityKind string, canonicalID uuid.UUID, scraperID, sourceEntityID string, fields interface{}) error {
	snapshot, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	rec := db.SourceRecord{
		EntityKind:     entityKind,
		CanonicalID:    canonicalID,
		ScraperID:      scraperID,
		SourceEntityID: sourceEntityID,
		Fields:         string(snapshot),
		ReportedAt:     time.Now(),
	}
	return tx.Where(
		"entity_kind = ? AND canonical_id = ? AND scraper_id = ? AND source_entity_id = ?",
		entityKind, canonicalID, scraperID, sourceEntityID,
	).Assign(db.SourceRecord{Fields: string(snapshot), ReportedAt: time.Now()}).FirstOrCreate(&rec).Error
}

func recordChanges(tx *gorm.DB, entityKind string, canonicalID uuid.UUID, scraperID string, changes []FieldChange) error {
	for _, c := range changes {
		entry := db.VersionEntry{
			EntityKind:  entityKind,
			CanonicalID: canonicalID,
			FieldName:   c.Field,
			OldValue:    c.OldValue,
			NewValue:    c.NewValue,
			Source:      scraperID,
			ChangedAt:   time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}
