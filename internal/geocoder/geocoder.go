// Package geocoder converts addresses to coordinates via an ordered chain of
// providers, each guarded by its own rate limiter and circuit breaker, with
// results cached in the broker's shared "geocode:" namespace.
package geocoder

import (
	"context"
	"errors"
)

// Result is a successful geocode.
type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Provider  string  `json:"provider"`
	Precision string  `json:"precision"` // "high", "medium", "low"
}

// ErrNotGeocodable is returned when every provider in the chain failed or
// declined to resolve an address.
var ErrNotGeocodable = errors.New("geocoder: address not geocodable")

// ErrNotResolvable is returned by Reverse when no provider can resolve the
// given coordinates to an address.
var ErrNotResolvable = errors.New("geocoder: coordinates not resolvable")

// Provider is the explicit interface every geocoding backend implements.
type Provider interface {
	Name() string
	Precision() string // the precision this provider's results are tagged with
	Geocode(ctx context.Context, address string) (lat, lng float64, err error)
	Reverse(ctx context.Context, lat, lng float64) (address string, err error)
}
