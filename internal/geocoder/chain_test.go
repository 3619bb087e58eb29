package geocoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockProvider struct {
	name      string
	precision string
	lat, lng  float64
	err       error
	calls     int
}

func (m *mockProvider) Name() string      { return m.name }
func (m *mockProvider) Precision() string { return m.precision }
func (m *mockProvider) Geocode(ctx context.Context, address string) (float64, float64, error) {
	m.calls++
	if m.err != nil {
		return 0, 0, m.err
	}
	return m.lat, m.lng, nil
}
func (m *mockProvider) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "221 Oak St", nil
}

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	cache := NewCache(openTestBroker(t), time.Minute)
	return NewChain(cache, zap.NewNop())
}

func TestChainFallsThroughToNextProviderOnFailure(t *testing.T) {
	chain := newTestChain(t)
	failing := &mockProvider{name: "arcgis", precision: "high", err: errors.New("timeout")}
	succeeding := &mockProvider{name: "census", precision: "medium", lat: 39.0997, lng: -94.5786}

	chain.Add(failing, 100, NewCircuitBreaker(openTestBroker(t), "arcgis", 3, time.Minute))
	chain.Add(succeeding, 100, NewCircuitBreaker(openTestBroker(t), "census", 3, time.Minute))

	result, err := chain.Geocode(context.Background(), "221 Oak St")
	require.NoError(t, err)
	assert.Equal(t, "census", result.Provider)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, succeeding.calls)
}

func TestChainReturnsErrNotGeocodableWhenAllProvidersFail(t *testing.T) {
	chain := newTestChain(t)
	a := &mockProvider{name: "arcgis", err: errors.New("down")}
	b := &mockProvider{name: "census", err: errors.New("down")}
	chain.Add(a, 100, NewCircuitBreaker(openTestBroker(t), "arcgis", 3, time.Minute))
	chain.Add(b, 100, NewCircuitBreaker(openTestBroker(t), "census", 3, time.Minute))

	_, err := chain.Geocode(context.Background(), "unresolvable address")
	assert.ErrorIs(t, err, ErrNotGeocodable)
}

func TestChainCachesFirstSuccessAcrossCalls(t *testing.T) {
	chain := newTestChain(t)
	succeeding := &mockProvider{name: "arcgis", precision: "high", lat: 1, lng: 2}
	chain.Add(succeeding, 100, NewCircuitBreaker(openTestBroker(t), "arcgis", 3, time.Minute))

	_, err := chain.Geocode(context.Background(), "221 Oak St")
	require.NoError(t, err)
	_, err = chain.Geocode(context.Background(), "221 Oak St")
	require.NoError(t, err)

	assert.Equal(t, 1, succeeding.calls, "a cached address must not re-invoke the provider")
}

func TestChainSkipsProviderWithOpenCircuit(t *testing.T) {
	chain := newTestChain(t)
	broken := &mockProvider{name: "arcgis", err: errors.New("down")}
	fallback := &mockProvider{name: "census", precision: "medium", lat: 1, lng: 2}

	breaker := NewCircuitBreaker(openTestBroker(t), "arcgis", 1, time.Minute)
	require.NoError(t, breaker.RecordFailure())

	chain.Add(broken, 100, breaker)
	chain.Add(fallback, 100, NewCircuitBreaker(openTestBroker(t), "census", 3, time.Minute))

	result, err := chain.Geocode(context.Background(), "221 Oak St")
	require.NoError(t, err)
	assert.Equal(t, "census", result.Provider)
	assert.Equal(t, 0, broken.calls, "a provider whose circuit is already open must not be called")
}
