package geocoder

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/foodatlas/pipeline/internal/broker"
)

// geocodeNamespace is the single shared cache namespace the specification
// requires ("one TTL across the system, no competing namespaces").
const geocodeNamespace = "geocode:"

// cacheKey normalises address (case, whitespace) before hashing so that
// trivially different renderings of the same address share a cache entry.
func cacheKey(address string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(address)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Cache wraps the broker's shared cache for geocode results.
type Cache struct {
	b   *broker.Broker
	ttl time.Duration
}

// NewCache returns a Cache with the given TTL (geocoder_cache_ttl_s).
func NewCache(b *broker.Broker, ttl time.Duration) *Cache {
	return &Cache{b: b, ttl: ttl}
}

// Get returns the cached Result for address, if present and unexpired.
func (c *Cache) Get(address string) (Result, bool, error) {
	raw, ok, err := c.b.CacheGet(geocodeNamespace, cacheKey(address))
	if err != nil || !ok {
		return Result{}, false, err
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, false, err
	}
	return result, true, nil
}

// Set stores result for address under the cache's configured TTL.
func (c *Cache) Set(address string, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.b.CacheSet(geocodeNamespace, cacheKey(address), data, c.ttl)
}
