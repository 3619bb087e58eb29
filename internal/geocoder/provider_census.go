package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// CensusProvider geocodes against the US Census Bureau's public geocoder,
// the lowest-precision, US-only fallback at the end of the default chain.
type CensusProvider struct {
	client  *http.Client
	baseURL string
}

// NewCensusProvider returns a CensusProvider with the given timeout.
func NewCensusProvider(timeout time.Duration) *CensusProvider {
	return &CensusProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress",
	}
}

func (p *CensusProvider) Name() string      { return "census" }
func (p *CensusProvider) Precision() string { return "low" }

type censusResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
			} `json:"coordinates"`
			MatchedAddress string `json:"matchedAddress"`
		} `json:"addressMatches"`
	} `json:"result"`
}

func (p *CensusProvider) Geocode(ctx context.Context, address string) (float64, float64, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", "Public_AR_Current")
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("census: status %d", resp.StatusCode)
	}

	var parsed censusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, err
	}
	if len(parsed.Result.AddressMatches) == 0 {
		return 0, 0, ErrNotGeocodable
	}
	m := parsed.Result.AddressMatches[0]
	return m.Coordinates.Y, m.Coordinates.X, nil
}

// Reverse is not offered by the Census one-line geocoder; it is US-only and
// forward-only, so it always declines.
func (p *CensusProvider) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	return "", ErrNotResolvable
}
