package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errRetryable = errors.New("retryable")
var errFatal = errors.New("fatal")

func alwaysRetryable(err error) bool { return true }

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, 2, alwaysRetryable, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, 2, alwaysRetryable, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errRetryable
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtAttemptLimit(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, 2, alwaysRetryable, func(ctx context.Context) error {
		calls++
		return errRetryable
	})
	assert.ErrorIs(t, err, errRetryable)
	assert.Equal(t, 3, calls)
}

func TestDoStopsImmediatelyOnNonRetryable(t *testing.T) {
	calls := 0
	isRetryable := func(err error) bool { return !errors.Is(err, errFatal) }
	err := Do(context.Background(), 5, time.Millisecond, 2, isRetryable, func(ctx context.Context) error {
		calls++
		return errFatal
	})
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestDoAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, 20*time.Millisecond, 2, alwaysRetryable, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errRetryable
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
