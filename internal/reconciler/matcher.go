package reconciler

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/coordutil"
	"github.com/foodatlas/pipeline/internal/db"
	"github.com/foodatlas/pipeline/internal/similarity"
)

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Join(strings.Fields(s), " ")))
}

// MatchOrganization finds the canonical organization this name most likely
// refers to, preferring an exact SourceRecord contribution from the same
// scraper over a fuzzy name match so that a scraper's own prior reports are
// always attributed to the same organization it already built.
//
// nameThreshold is how close two normalised organization names must be, via
// Jaro-Winkler, to count as the same entity when no exact normalised-name
// match exists. Franchise and chain names differ by a branch suffix or
// punctuation far more often than they differ substantively, which is what
// the prefix-weighted Jaro-Winkler metric rewards. Callers pass
// config.Config.ReconcilerNameSimilarity.
func MatchOrganization(ctx context.Context, tx *gorm.DB, scraperID, sourceEntityID, name string, nameThreshold float64) (*db.CanonicalOrganization, error) {
	var existingSource db.SourceRecord
	err := tx.WithContext(ctx).Where(
		"entity_kind = ? AND scraper_id = ? AND source_entity_id = ?", "organization", scraperID, sourceEntityID,
	).Take(&existingSource).Error
	if err == nil {
		var org db.CanonicalOrganization
		if err := tx.WithContext(ctx).Where("id = ?", existingSource.CanonicalID).Take(&org).Error; err == nil {
			return &org, nil
		}
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	norm := normalizeName(name)

	var exact db.CanonicalOrganization
	if err := tx.WithContext(ctx).Where("name_norm = ?", norm).Take(&exact).Error; err == nil {
		return &exact, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var candidates []db.CanonicalOrganization
	if err := tx.WithContext(ctx).Find(&candidates).Error; err != nil {
		return nil, err
	}
	var best *db.CanonicalOrganization
	bestScore := 0.0
	for i := range candidates {
		score := similarity.JaroWinkler(norm, candidates[i].NameNorm)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best != nil && bestScore >= nameThreshold {
		return best, nil
	}
	return nil, nil
}

// MatchLocation finds the canonical location belonging to organizationID
// that this address/coordinate pair most likely refers to: an exact source
// attribution first, then a same-organization location within radiusMeters
// whose address line is a close fuzzy match.
//
// radiusMeters is how close two coordinate pairs must be to count as the
// same physical location when names also match closely; callers pass
// config.Config.ReconcilerLocationEpsilonM. nameThreshold is the same
// Jaro-Winkler cutoff documented on MatchOrganization.
func MatchLocation(ctx context.Context, tx *gorm.DB, scraperID, sourceEntityID string, organizationID uuid.UUID, addressLine1 string, lat, lng float64, nameThreshold, radiusMeters float64) (*db.CanonicalLocation, error) {
	var existingSource db.SourceRecord
	err := tx.WithContext(ctx).Where(
		"entity_kind = ? AND scraper_id = ? AND source_entity_id = ?", "location", scraperID, sourceEntityID,
	).Take(&existingSource).Error
	if err == nil {
		var loc db.CanonicalLocation
		if err := tx.WithContext(ctx).Where("id = ?", existingSource.CanonicalID).Take(&loc).Error; err == nil {
			return &loc, nil
		}
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var candidates []db.CanonicalLocation
	if err := tx.WithContext(ctx).Where("organization_id = ?", organizationID).Find(&candidates).Error; err != nil {
		return nil, err
	}

	normAddr := normalizeName(addressLine1)
	for i := range candidates {
		c := candidates[i]
		if coordutil.IsZero(lat, lng) || coordutil.IsZero(c.Latitude, c.Longitude) {
			continue
		}
		distance := coordutil.HaversineMeters(lat, lng, c.Latitude, c.Longitude)
		if distance > radiusMeters {
			continue
		}
		if similarity.JaroWinkler(normAddr, normalizeName(c.AddressLine1)) >= nameThreshold {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// MatchService finds the canonical service for organizationID whose
// normalised name matches exactly or fuzzily. Services are scoped to their
// organization, unlike organizations themselves, since two unrelated
// organizations legitimately both offer a service named "Food Pantry".
//
// nameThreshold is the same Jaro-Winkler cutoff documented on
// MatchOrganization.
func MatchService(ctx context.Context, tx *gorm.DB, scraperID, sourceEntityID string, organizationID uuid.UUID, name string, nameThreshold float64) (*db.CanonicalService, error) {
	var existingSource db.SourceRecord
	err := tx.WithContext(ctx).Where(
		"entity_kind = ? AND scraper_id = ? AND source_entity_id = ?", "service", scraperID, sourceEntityID,
	).Take(&existingSource).Error
	if err == nil {
		var svc db.CanonicalService
		if err := tx.WithContext(ctx).Where("id = ?", existingSource.CanonicalID).Take(&svc).Error; err == nil {
			return &svc, nil
		}
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	norm := normalizeName(name)
	var exact db.CanonicalService
	err = tx.WithContext(ctx).Where("organization_id = ? AND name_norm = ?", organizationID, norm).Take(&exact).Error
	if err == nil {
		return &exact, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	var candidates []db.CanonicalService
	if err := tx.WithContext(ctx).Where("organization_id = ?", organizationID).Find(&candidates).Error; err != nil {
		return nil, err
	}
	var best *db.CanonicalService
	bestScore := 0.0
	for i := range candidates {
		score := similarity.JaroWinkler(norm, candidates[i].NameNorm)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best != nil && bestScore >= nameThreshold {
		return best, nil
	}
	return nil, nil
}
