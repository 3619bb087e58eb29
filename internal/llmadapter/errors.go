package llmadapter

import (
	"fmt"
	"time"

	"github.com/foodatlas/pipeline/internal/pipelineerr"
)

// QuotaExceededError means the provider rejected the call on quota/rate
// grounds. RetryAfter is the provider's hinted cooldown, if any.
type QuotaExceededError struct {
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("llm: quota exceeded, retry after %s", e.RetryAfter)
}

// ProviderTransientError covers transport failures and 5xx-class responses.
type ProviderTransientError struct{ Cause error }

func (e *ProviderTransientError) Error() string { return fmt.Sprintf("llm: provider transient: %v", e.Cause) }
func (e *ProviderTransientError) Unwrap() error  { return e.Cause }

// MalformedOutputError means the provider's raw output could not even be
// decoded as JSON (before schema checking).
type MalformedOutputError struct{ Cause error }

func (e *MalformedOutputError) Error() string { return fmt.Sprintf("llm: malformed output: %v", e.Cause) }
func (e *MalformedOutputError) Unwrap() error  { return e.Cause }

// SchemaViolationError means the output decoded but did not match the
// HSDS-aligned schema (unknown fields, missing required fields).
type SchemaViolationError struct{ Cause error }

func (e *SchemaViolationError) Error() string { return fmt.Sprintf("llm: schema violation: %v", e.Cause) }
func (e *SchemaViolationError) Unwrap() error  { return e.Cause }

// ProviderPermanentError covers 4xx-class responses that retrying will not
// fix (bad request, invalid model name, revoked key).
type ProviderPermanentError struct{ Cause error }

func (e *ProviderPermanentError) Error() string { return fmt.Sprintf("llm: provider permanent: %v", e.Cause) }
func (e *ProviderPermanentError) Unwrap() error  { return e.Cause }

// TimeoutError means the provider call exceeded its wall-clock deadline.
type TimeoutError struct{ Cause error }

func (e *TimeoutError) Error() string { return fmt.Sprintf("llm: timeout: %v", e.Cause) }
func (e *TimeoutError) Unwrap() error  { return e.Cause }

// Classify maps an LLMError to the shared pipeline error taxonomy so the
// worker loop's queue propagation logic doesn't need to know about LLM-
// specific error types.
func Classify(err error) pipelineerr.Kind {
	switch err.(type) {
	case *QuotaExceededError, *ProviderTransientError, *TimeoutError:
		return pipelineerr.KindTransient
	case *MalformedOutputError, *SchemaViolationError:
		return pipelineerr.KindInputMalformed
	case *ProviderPermanentError:
		return pipelineerr.KindIntegrity
	default:
		return pipelineerr.KindTransient
	}
}
