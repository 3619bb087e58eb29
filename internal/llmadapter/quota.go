package llmadapter

import (
	"time"

	"github.com/foodatlas/pipeline/internal/broker"
)

// QuotaGate consults and updates the broker-wide quota back-off flag for one
// provider. All LLM workers share the same gate keyed by provider name so a
// quota error observed by one worker is immediately visible to the rest.
type QuotaGate struct {
	b           *broker.Broker
	provider    string
	baseDelay   time.Duration
	maxDelay    time.Duration
	backoff     float64
}

// NewQuotaGate returns a QuotaGate for provider, using cfg's base delay, max
// delay, and backoff multiplier (llm_quota_base_delay_s / _max_delay_s /
// _backoff).
func NewQuotaGate(b *broker.Broker, provider string, baseDelay, maxDelay time.Duration, backoff float64) *QuotaGate {
	return &QuotaGate{b: b, provider: provider, baseDelay: baseDelay, maxDelay: maxDelay, backoff: backoff}
}

// BlockedFor returns how long the caller should wait before issuing another
// provider call, or zero if the provider is not currently blocked.
func (g *QuotaGate) BlockedFor() (time.Duration, error) {
	state, err := g.b.QuotaGet(g.provider)
	if err != nil {
		return 0, err
	}
	remaining := time.Until(state.BlockedUntil)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// RecordQuotaExceeded sets the broker-wide block for this provider, taking
// the larger of the provider's hinted retryAfter and this provider's current
// compounded backoff delay, and compounds the multiplier for next time up to
// the configured cap.
func (g *QuotaGate) RecordQuotaExceeded(retryAfter time.Duration) error {
	state, err := g.b.QuotaGet(g.provider)
	if err != nil {
		return err
	}
	if state.BackoffMultiplier < 1 {
		state.BackoffMultiplier = 1
	}

	delay := time.Duration(float64(g.baseDelay) * state.BackoffMultiplier)
	if delay > g.maxDelay {
		delay = g.maxDelay
	}
	if retryAfter > delay {
		delay = retryAfter
	}

	state.BlockedUntil = time.Now().Add(delay)
	nextMultiplier := state.BackoffMultiplier * g.backoff
	maxMultiplier := float64(g.maxDelay) / float64(g.baseDelay)
	if nextMultiplier > maxMultiplier {
		nextMultiplier = maxMultiplier
	}
	state.BackoffMultiplier = nextMultiplier

	return g.b.QuotaSet(state)
}

// Reset clears the provider's backoff multiplier after a successful call,
// so an isolated quota blip does not permanently inflate future delays.
func (g *QuotaGate) Reset() error {
	state, err := g.b.QuotaGet(g.provider)
	if err != nil {
		return err
	}
	if state.BackoffMultiplier == 1 && state.BlockedUntil.IsZero() {
		return nil
	}
	state.BackoffMultiplier = 1
	return g.b.QuotaSet(state)
}
