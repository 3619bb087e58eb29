package broker

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBroker(t *testing.T) *Broker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "broker.db")
	b, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEnqueueDequeueAck(t *testing.T) {
	b := openTestBroker(t)

	require.NoError(t, b.Enqueue("llm", []byte("payload-1"), EnqueueOptions{JobID: "job-1"}))

	handle, payload, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-1", handle.JobID)
	assert.Equal(t, []byte("payload-1"), payload)
	assert.Equal(t, 1, handle.Attempts)

	require.NoError(t, b.Ack(handle))

	depth, err := b.Depth("llm")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestEnqueueIsIdempotentByJobID(t *testing.T) {
	b := openTestBroker(t)

	require.NoError(t, b.Enqueue("llm", []byte("first"), EnqueueOptions{JobID: "job-1"}))
	require.NoError(t, b.Enqueue("llm", []byte("second"), EnqueueOptions{JobID: "job-1"}))

	depth, err := b.Depth("llm")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	_, payload, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("first"), payload, "re-enqueuing an existing job id must not overwrite the original payload")
}

func TestEnqueueRequiresJobID(t *testing.T) {
	b := openTestBroker(t)
	err := b.Enqueue("llm", []byte("x"), EnqueueOptions{})
	assert.Error(t, err)
}

func TestDequeueHidesJobUntilVisibilityExpires(t *testing.T) {
	b := openTestBroker(t)
	require.NoError(t, b.Enqueue("llm", []byte("payload"), EnqueueOptions{JobID: "job-1"}))

	handle, _, ok, err := b.Dequeue("llm", "worker-1", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, ok, err = b.Dequeue("llm", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "job must stay invisible to other workers until its visibility timeout elapses")

	time.Sleep(40 * time.Millisecond)

	redelivered, _, ok, err := b.Dequeue("llm", "worker-2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "job must be redelivered once visibility expires")
	assert.Equal(t, 2, redelivered.Attempts)
	_ = handle
}

func TestNackReleasesJobForRedelivery(t *testing.T) {
	b := openTestBroker(t)
	require.NoError(t, b.Enqueue("llm", []byte("payload"), EnqueueOptions{JobID: "job-1"}))

	handle, _, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Nack(handle, NackOptions{}))

	_, _, ok, err = b.Dequeue("llm", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "nacked job must be immediately eligible for redelivery with zero delay")
}

func TestNackRejectsStaleToken(t *testing.T) {
	b := openTestBroker(t)
	require.NoError(t, b.Enqueue("llm", []byte("payload"), EnqueueOptions{JobID: "job-1"}))

	handle, _, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	stale := handle
	stale.Token = "not-the-real-token"
	err = b.Nack(stale, NackOptions{})
	assert.Error(t, err)
}

func TestMoveToDLQRemovesFromQueue(t *testing.T) {
	b := openTestBroker(t)
	require.NoError(t, b.Enqueue("llm", []byte("payload"), EnqueueOptions{JobID: "job-1"}))

	handle, _, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.MoveToDLQ(handle, "schema violation"))

	depth, err := b.Depth("llm")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestDequeueReturnsFalseWhenEmpty(t *testing.T) {
	b := openTestBroker(t)
	_, _, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDequeueOrdersByEnqueuedAt(t *testing.T) {
	b := openTestBroker(t)
	require.NoError(t, b.Enqueue("llm", []byte("second"), EnqueueOptions{JobID: "job-2"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.Enqueue("llm", []byte("third"), EnqueueOptions{JobID: "job-3"}))

	handle, _, ok, err := b.Dequeue("llm", "worker-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-2", handle.JobID)
}

func TestCacheSetGetRoundtripAndExpiry(t *testing.T) {
	b := openTestBroker(t)

	require.NoError(t, b.CacheSet("geocode:", "221 oak st", []byte(`{"lat":1}`), time.Minute))
	value, ok, err := b.CacheGet("geocode:", "221 oak st")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"lat":1}`), value)

	require.NoError(t, b.CacheSet("geocode:", "expired entry", []byte(`{}`), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err = b.CacheGet("geocode:", "expired entry")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheGetMissingKey(t *testing.T) {
	b := openTestBroker(t)
	_, ok, err := b.CacheGet("geocode:", "never set")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuotaGetDefaultsToUnblocked(t *testing.T) {
	b := openTestBroker(t)
	state, err := b.QuotaGet("openai")
	require.NoError(t, err)
	assert.True(t, state.BlockedUntil.Before(time.Now()))
	assert.Equal(t, float64(1), state.BackoffMultiplier)
}

func TestQuotaSetGetRoundtrip(t *testing.T) {
	b := openTestBroker(t)
	blockedUntil := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, b.QuotaSet(QuotaState{Provider: "openai", BlockedUntil: blockedUntil, BackoffMultiplier: 4}))

	state, err := b.QuotaGet("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", state.Provider)
	assert.Equal(t, float64(4), state.BackoffMultiplier)
	assert.True(t, state.BlockedUntil.Equal(blockedUntil))
}

func TestCircuitGetDefaultsToClosed(t *testing.T) {
	b := openTestBroker(t)
	state, err := b.CircuitGet("arcgis")
	require.NoError(t, err)
	assert.Equal(t, "closed", state.State)
	assert.Equal(t, 0, state.ConsecutiveFailures)
}

func TestCircuitSetGetRoundtrip(t *testing.T) {
	b := openTestBroker(t)
	require.NoError(t, b.CircuitSet(CircuitState{Provider: "arcgis", State: "open", ConsecutiveFailures: 5, OpenedAt: time.Now()}))

	state, err := b.CircuitGet("arcgis")
	require.NoError(t, err)
	assert.Equal(t, "open", state.State)
	assert.Equal(t, 5, state.ConsecutiveFailures)
}
