package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/foodatlas/pipeline/internal/coordutil"
	"github.com/foodatlas/pipeline/internal/geocoder"
	"github.com/foodatlas/pipeline/internal/model"
)

// Enricher resolves missing or invalid coordinates via the geocoder chain
// and re-derives the address state code from them, per the enrichment
// sequence in the specification.
type Enricher struct {
	Chain *geocoder.Chain
}

// EnrichResult is what Enrich adds on top of the record's own fields.
type EnrichResult struct {
	Latitude         float64
	Longitude        float64
	HasCoordinates   bool
	GeocodeProvider  string
	GeocodePrecision string
	CoordinateState  string
}

// Enrich implements the enrichment sequence: if the record's own
// coordinates are present and valid, they are used as-is with no geocoder
// call. Otherwise, when an address line and city are present, the geocoder
// chain is consulted (which itself checks the shared cache first).
func (e *Enricher) Enrich(ctx context.Context, record model.AlignedRecord) (EnrichResult, error) {
	if record.Location != nil && record.Location.Latitude != nil && record.Location.Longitude != nil {
		lat, lng := *record.Location.Latitude, *record.Location.Longitude
		if !coordutil.IsZero(lat, lng) {
			return EnrichResult{Latitude: lat, Longitude: lng, HasCoordinates: true}, nil
		}
	}

	if record.Location == nil || strings.TrimSpace(record.Location.AddressLine1) == "" || strings.TrimSpace(record.Location.City) == "" {
		return EnrichResult{}, nil
	}

	address := formatAddress(*record.Location)
	result, err := e.Chain.Geocode(ctx, address)
	if err != nil {
		return EnrichResult{}, nil // not geocodable: scoring rules handle the missing-coordinates case
	}

	out := EnrichResult{
		Latitude:         result.Latitude,
		Longitude:        result.Longitude,
		HasCoordinates:   true,
		GeocodeProvider:  result.Provider,
		GeocodePrecision: result.Precision,
	}

	if coordState, err := e.reverseState(ctx, result.Latitude, result.Longitude); err == nil {
		out.CoordinateState = coordState
	}
	return out, nil
}

// reverseState resolves a coordinate pair to a US state code via the
// geocoder's reverse lookup, used to cross-check the address's own stated
// state per the "address state disagrees with coordinate-state lookup" rule.
func (e *Enricher) reverseState(ctx context.Context, lat, lng float64) (string, error) {
	address, err := e.Chain.Reverse(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	return coordutil.NormalizeState(extractStateToken(address)), nil
}

// extractStateToken takes the best guess at a state name/code out of a
// free-form reverse-geocoded address string by trying comma-separated
// segments from the end, which is where US addresses conventionally place
// the state.
func extractStateToken(address string) string {
	parts := strings.Split(address, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		token := strings.TrimSpace(parts[i])
		if coordutil.NormalizeState(token) != "" {
			return token
		}
		fields := strings.Fields(token)
		if len(fields) > 0 {
			if coordutil.NormalizeState(fields[0]) != "" {
				return fields[0]
			}
		}
	}
	return ""
}

func formatAddress(loc model.Location) string {
	return fmt.Sprintf("%s, %s, %s %s", loc.AddressLine1, loc.City, loc.StateCode, loc.PostalCode)
}
