package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ArcGISProvider geocodes against Esri's public "World Geocoding Service",
// the highest-precision provider in the default chain.
type ArcGISProvider struct {
	client  *http.Client
	baseURL string
}

// NewArcGISProvider returns an ArcGISProvider with the given timeout.
func NewArcGISProvider(timeout time.Duration) *ArcGISProvider {
	return &ArcGISProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://geocode.arcgis.com/arcgis/rest/services/World/GeocodeServer",
	}
}

func (p *ArcGISProvider) Name() string      { return "arcgis" }
func (p *ArcGISProvider) Precision() string { return "high" }

type arcgisFindResponse struct {
	Candidates []struct {
		Location struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"location"`
		Score float64 `json:"score"`
	} `json:"candidates"`
}

func (p *ArcGISProvider) Geocode(ctx context.Context, address string) (float64, float64, error) {
	q := url.Values{}
	q.Set("singleLine", address)
	q.Set("f", "json")
	q.Set("maxLocations", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/findAddressCandidates?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("arcgis: status %d", resp.StatusCode)
	}

	var parsed arcgisFindResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, 0, err
	}
	if len(parsed.Candidates) == 0 {
		return 0, 0, ErrNotGeocodable
	}
	best := parsed.Candidates[0]
	return best.Location.Y, best.Location.X, nil
}

type arcgisReverseResponse struct {
	Address struct {
		Match string `json:"Match_addr"`
	} `json:"address"`
}

func (p *ArcGISProvider) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("location", fmt.Sprintf("%f,%f", lng, lat))
	q.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/reverseGeocode?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("arcgis: status %d", resp.StatusCode)
	}

	var parsed arcgisReverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.Address.Match == "" {
		return "", ErrNotResolvable
	}
	return parsed.Address.Match, nil
}
