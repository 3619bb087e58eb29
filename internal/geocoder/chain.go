package geocoder

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// chainEntry pairs one provider with its own rate limiter and circuit
// breaker — each provider is otherwise stateless, per Design Notes §9.
type chainEntry struct {
	provider Provider
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
}

// Chain tries providers in order, skipping any whose circuit is open, and
// caches the first success.
type Chain struct {
	entries []chainEntry
	cache   *Cache
	log     *zap.Logger
}

// NewChain returns an empty Chain; providers are tried in the order Add
// appends them.
func NewChain(cache *Cache, log *zap.Logger) *Chain {
	return &Chain{cache: cache, log: log}
}

// Add appends a provider to the end of the chain with its own rate limit
// (requests per second) and circuit breaker.
func (c *Chain) Add(p Provider, rps float64, breaker *CircuitBreaker) {
	c.entries = append(c.entries, chainEntry{
		provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		breaker:  breaker,
	})
}

// Geocode consults the cache first, then tries each provider in order until
// one succeeds. The cache is keyed by the full normalised address hash
// regardless of which provider ultimately supplied the result.
func (c *Chain) Geocode(ctx context.Context, address string) (Result, error) {
	if cached, ok, err := c.cache.Get(address); err == nil && ok {
		return cached, nil
	}

	for _, e := range c.entries {
		allowed, err := e.breaker.Allow()
		if err != nil {
			c.log.Warn("geocoder: circuit state check failed", zap.String("provider", e.provider.Name()), zap.Error(err))
			continue
		}
		if !allowed {
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}

		lat, lng, err := e.provider.Geocode(ctx, address)
		if err != nil {
			c.log.Warn("geocoder: provider failed", zap.String("provider", e.provider.Name()), zap.Error(err))
			_ = e.breaker.RecordFailure()
			continue
		}

		_ = e.breaker.RecordSuccess()
		result := Result{Latitude: lat, Longitude: lng, Provider: e.provider.Name(), Precision: e.provider.Precision()}
		if err := c.cache.Set(address, result); err != nil {
			c.log.Warn("geocoder: cache write failed", zap.Error(err))
		}
		return result, nil
	}

	return Result{}, ErrNotGeocodable
}

// Reverse tries each provider in order, the same way Geocode does, but is
// not cache-backed: the specification's single shared cache namespace is
// defined for forward geocodes only.
func (c *Chain) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	for _, e := range c.entries {
		allowed, err := e.breaker.Allow()
		if err != nil || !allowed {
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}
		address, err := e.provider.Reverse(ctx, lat, lng)
		if err != nil {
			_ = e.breaker.RecordFailure()
			continue
		}
		_ = e.breaker.RecordSuccess()
		return address, nil
	}
	return "", ErrNotResolvable
}
