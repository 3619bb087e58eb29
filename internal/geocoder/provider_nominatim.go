package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// NominatimProvider geocodes against the OpenStreetMap Nominatim API, the
// medium-precision fallback in the default chain.
type NominatimProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

// NewNominatimProvider returns a NominatimProvider with the given timeout.
// Nominatim's usage policy requires a descriptive User-Agent on every call.
func NewNominatimProvider(timeout time.Duration, userAgent string) *NominatimProvider {
	return &NominatimProvider{
		client:    &http.Client{Timeout: timeout},
		baseURL:   "https://nominatim.openstreetmap.org",
		userAgent: userAgent,
	}
}

func (p *NominatimProvider) Name() string      { return "nominatim" }
func (p *NominatimProvider) Precision() string { return "medium" }

type nominatimResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (p *NominatimProvider) do(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	return p.client.Do(req)
}

func (p *NominatimProvider) Geocode(ctx context.Context, address string) (float64, float64, error) {
	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	resp, err := p.do(ctx, "/search", q)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return 0, 0, err
	}
	if len(results) == 0 {
		return 0, 0, ErrNotGeocodable
	}
	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, err
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

type nominatimReverseResult struct {
	DisplayName string `json:"display_name"`
}

func (p *NominatimProvider) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("format", "jsonv2")

	resp, err := p.do(ctx, "/reverse", q)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}

	var result nominatimReverseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.DisplayName == "" {
		return "", ErrNotResolvable
	}
	return result.DisplayName, nil
}
