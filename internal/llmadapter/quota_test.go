package llmadapter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodatlas/pipeline/internal/broker"
)

func openTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	b, err := broker.Open(filepath.Join(t.TempDir(), "broker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestQuotaGateStartsUnblocked(t *testing.T) {
	gate := NewQuotaGate(openTestBroker(t), "openai", time.Second, time.Minute, 2.0)
	blocked, err := gate.BlockedFor()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), blocked)
}

func TestQuotaGateRecordQuotaExceededBlocksForBaseDelay(t *testing.T) {
	gate := NewQuotaGate(openTestBroker(t), "openai", time.Second, time.Minute, 2.0)
	require.NoError(t, gate.RecordQuotaExceeded(0))

	blocked, err := gate.BlockedFor()
	require.NoError(t, err)
	assert.True(t, blocked > 0 && blocked <= time.Second)
}

func TestQuotaGateCompoundsBackoffOnRepeatedExceeded(t *testing.T) {
	gate := NewQuotaGate(openTestBroker(t), "openai", time.Second, time.Minute, 2.0)
	require.NoError(t, gate.RecordQuotaExceeded(0))
	first, err := gate.BlockedFor()
	require.NoError(t, err)

	require.NoError(t, gate.RecordQuotaExceeded(0))
	second, err := gate.BlockedFor()
	require.NoError(t, err)

	assert.Greater(t, second, first, "repeated quota errors must compound the backoff delay")
}

func TestQuotaGateRespectsRetryAfterHint(t *testing.T) {
	gate := NewQuotaGate(openTestBroker(t), "openai", time.Second, time.Minute, 2.0)
	require.NoError(t, gate.RecordQuotaExceeded(45*time.Second))

	blocked, err := gate.BlockedFor()
	require.NoError(t, err)
	assert.True(t, blocked > 40*time.Second, "a retry-after hint larger than the computed backoff must win")
}

func TestQuotaGateBackoffNeverExceedsMaxDelay(t *testing.T) {
	gate := NewQuotaGate(openTestBroker(t), "openai", time.Second, 5*time.Second, 2.0)
	for i := 0; i < 10; i++ {
		require.NoError(t, gate.RecordQuotaExceeded(0))
	}
	blocked, err := gate.BlockedFor()
	require.NoError(t, err)
	assert.LessOrEqual(t, blocked, 5*time.Second)
}

func TestQuotaGateResetClearsBackoffMultiplier(t *testing.T) {
	b := openTestBroker(t)
	gate := NewQuotaGate(b, "openai", time.Second, time.Minute, 2.0)
	require.NoError(t, gate.RecordQuotaExceeded(0))
	require.NoError(t, gate.RecordQuotaExceeded(0))

	require.NoError(t, gate.Reset())

	state, err := b.QuotaGet("openai")
	require.NoError(t, err)
	assert.Equal(t, float64(1), state.BackoffMultiplier)
}
