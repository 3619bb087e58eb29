package publisher

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/foodatlas/pipeline/internal/db"
)

// snapshot is a consistent, in-memory read of the canonical store taken
// under a single transaction, so every artifact generated from it reflects
// the same instant regardless of how long writing artifacts out takes.
type snapshot struct {
	Organizations        []db.CanonicalOrganization
	Locations            []db.CanonicalLocation
	Services             []db.CanonicalService
	ServiceAtLocations   []db.CanonicalServiceAtLocation
}

func readSnapshot(ctx context.Context, gdb *gorm.DB) (*snapshot, error) {
	var snap snapshot
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("active = ?", true).Find(&snap.Organizations).Error; err != nil {
			return err
		}
		if err := tx.Find(&snap.Locations).Error; err != nil {
			return err
		}
		if err := tx.Find(&snap.Services).Error; err != nil {
			return err
		}
		if err := tx.Find(&snap.ServiceAtLocations).Error; err != nil {
			return err
		}
		return nil
	}, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// rowCounts summarises the snapshot for the ratchet guard and PublisherRun
// bookkeeping.
func (s *snapshot) rowCounts() map[string]int64 {
	return map[string]int64{
		"organizations":         int64(len(s.Organizations)),
		"locations":              int64(len(s.Locations)),
		"services":               int64(len(s.Services)),
		"service_at_locations":   int64(len(s.ServiceAtLocations)),
	}
}
