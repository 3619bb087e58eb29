package publisher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foodatlas/pipeline/internal/db"
)

// organizationRow, locationRow, serviceRow, and serviceAtLocationRow are the
// JSONL wire shapes — a trimmed, externally-stable projection of the
// canonical GORM models, so a future internal column rename doesn't silently
// change the published artifact's schema.
type organizationRow struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AlternateName string `json:"alternate_name,omitempty"`
	Description   string `json:"description,omitempty"`
	Email         string `json:"email,omitempty"`
	URL           string `json:"url,omitempty"`
	TaxStatus     string `json:"tax_status,omitempty"`
}

type locationRow struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organization_id"`
	Name           string  `json:"name,omitempty"`
	AddressLine1   string  `json:"address_1"`
	City           string  `json:"city"`
	StateCode      string  `json:"state_province"`
	PostalCode     string  `json:"postal_code,omitempty"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

type serviceRow struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
}

type serviceAtLocationRow struct {
	ID         string `json:"id"`
	ServiceID  string `json:"service_id"`
	LocationID string `json:"location_id"`
}

// writeJSONLArtifacts streams each table in the snapshot out as one JSON
// object per line, the format the distributed dataset is published in.
func writeJSONLArtifacts(dir string, snap *snapshot) error {
	if err := writeJSONL(filepath.Join(dir, "organizations.jsonl"), len(snap.Organizations), func(i int) interface{} {
		o := snap.Organizations[i]
		return organizationRow{ID: o.ID.String(), Name: o.Name, AlternateName: o.AlternateName, Description: o.Description, Email: o.Email, URL: o.URL, TaxStatus: o.TaxStatus}
	}); err != nil {
		return fmt.Errorf("publisher: organizations.jsonl: %w", err)
	}

	if err := writeJSONL(filepath.Join(dir, "locations.jsonl"), len(snap.Locations), func(i int) interface{} {
		l := snap.Locations[i]
		return locationRow{ID: l.ID.String(), OrganizationID: l.OrganizationID.String(), Name: l.Name, AddressLine1: l.AddressLine1, City: l.City, StateCode: l.StateCode, PostalCode: l.PostalCode, Latitude: l.Latitude, Longitude: l.Longitude}
	}); err != nil {
		return fmt.Errorf("publisher: locations.jsonl: %w", err)
	}

	if err := writeJSONL(filepath.Join(dir, "services.jsonl"), len(snap.Services), func(i int) interface{} {
		s := snap.Services[i]
		return serviceRow{ID: s.ID.String(), OrganizationID: s.OrganizationID.String(), Name: s.Name, Description: s.Description, Status: s.Status}
	}); err != nil {
		return fmt.Errorf("publisher: services.jsonl: %w", err)
	}

	if err := writeJSONL(filepath.Join(dir, "service_at_locations.jsonl"), len(snap.ServiceAtLocations), func(i int) interface{} {
		j := snap.ServiceAtLocations[i]
		return serviceAtLocationRow{ID: j.ID.String(), ServiceID: j.ServiceID.String(), LocationID: j.LocationID.String()}
	}); err != nil {
		return fmt.Errorf("publisher: service_at_locations.jsonl: %w", err)
	}

	return nil
}

func writeJSONL(path string, n int, at func(i int) interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := 0; i < n; i++ {
		if err := enc.Encode(at(i)); err != nil {
			return err
		}
	}
	return nil
}

// geoFeature/geoGeometry/geoCollection mirror the minimal GeoJSON shapes
// needed for a FeatureCollection of Point geometries.
type geoFeature struct {
	Type       string                 `json:"type"`
	Geometry   geoGeometry            `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type geoCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// writeGeoJSON emits locations.geojson: one Point feature per location,
// longitude before latitude per the GeoJSON coordinate order convention.
func writeGeoJSON(dir string, snap *snapshot) error {
	collection := geoCollection{Type: "FeatureCollection", Features: make([]geoFeature, 0, len(snap.Locations))}
	for _, l := range snap.Locations {
		collection.Features = append(collection.Features, geoFeature{
			Type:     "Feature",
			Geometry: geoGeometry{Type: "Point", Coordinates: []float64{l.Longitude, l.Latitude}},
			Properties: map[string]interface{}{
				"id":              l.ID.String(),
				"organization_id": l.OrganizationID.String(),
				"name":            l.Name,
				"address_1":       l.AddressLine1,
				"city":            l.City,
				"state_province":  l.StateCode,
				"postal_code":     l.PostalCode,
			},
		})
	}

	f, err := os.Create(filepath.Join(dir, "locations.geojson"))
	if err != nil {
		return fmt.Errorf("publisher: locations.geojson: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(collection)
}

// writeSQLiteSnapshot builds a fresh, self-contained SQLite file containing
// the same snapshot, for consumers who prefer to query it directly rather
// than reassemble the JSONL files.
func writeSQLiteSnapshot(dir string, snap *snapshot) error {
	path := filepath.Join(dir, "snapshot.sqlite")
	_ = os.Remove(path)

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return fmt.Errorf("publisher: open snapshot.sqlite: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := gdb.AutoMigrate(&db.CanonicalOrganization{}, &db.CanonicalLocation{}, &db.CanonicalService{}, &db.CanonicalServiceAtLocation{}); err != nil {
		return fmt.Errorf("publisher: migrate snapshot.sqlite: %w", err)
	}

	if len(snap.Organizations) > 0 {
		if err := gdb.CreateInBatches(snap.Organizations, 200).Error; err != nil {
			return err
		}
	}
	if len(snap.Locations) > 0 {
		if err := gdb.CreateInBatches(snap.Locations, 200).Error; err != nil {
			return err
		}
	}
	if len(snap.Services) > 0 {
		if err := gdb.CreateInBatches(snap.Services, 200).Error; err != nil {
			return err
		}
	}
	if len(snap.ServiceAtLocations) > 0 {
		if err := gdb.CreateInBatches(snap.ServiceAtLocations, 200).Error; err != nil {
			return err
		}
	}
	return nil
}
