package llmadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodatlas/pipeline/internal/pipelineerr"
)

func TestStripCodeFenceRemovesJSONFence(t *testing.T) {
	assert.Equal(t, `{"organization":{"name":"x"}}`, stripCodeFence("```json\n{\"organization\":{\"name\":\"x\"}}\n```"))
}

func TestStripCodeFenceRemovesBareFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
}

func TestStripCodeFenceLeavesUnfencedTextAlone(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestStripCodeFenceTrimsSurroundingWhitespace(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("  \n{\"a\":1}\n  "))
}

func TestClassifyMapsProviderErrorsToPipelineKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want pipelineerr.Kind
	}{
		{"quota exceeded", &QuotaExceededError{}, pipelineerr.KindTransient},
		{"transient", &ProviderTransientError{Cause: errors.New("boom")}, pipelineerr.KindTransient},
		{"timeout", &TimeoutError{Cause: errors.New("deadline")}, pipelineerr.KindTransient},
		{"malformed output", &MalformedOutputError{Cause: errors.New("bad json")}, pipelineerr.KindInputMalformed},
		{"schema violation", &SchemaViolationError{Cause: errors.New("missing field")}, pipelineerr.KindInputMalformed},
		{"permanent", &ProviderPermanentError{Cause: errors.New("401")}, pipelineerr.KindIntegrity},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Classify(c.err))
		})
	}
}

type mockProvider struct {
	output string
	err    error
}

func (m *mockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	return m.output, m.err
}

func TestAlignParsesFencedProviderOutput(t *testing.T) {
	provider := &mockProvider{output: "```json\n{\"organization\":{\"name\":\"Community Food Bank\"}}\n```"}
	adapter := New(provider)

	record, err := adapter.Align(context.Background(), "job-1", "hash-1", "raw source text", "https://example.org", "scraper-a")
	require.NoError(t, err)
	assert.Equal(t, "Community Food Bank", record.Organization.Name)
	assert.Equal(t, "job-1", record.JobID)
	assert.Equal(t, "scraper-a", record.ScraperID)
}

func TestAlignWrapsSchemaViolationAsSchemaViolationError(t *testing.T) {
	provider := &mockProvider{output: `{"organization":{"description":"no name"}}`}
	adapter := New(provider)

	_, err := adapter.Align(context.Background(), "job-1", "hash-1", "raw", "url", "scraper-a")
	require.Error(t, err)
	var schemaErr *SchemaViolationError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestAlignPropagatesProviderError(t *testing.T) {
	provider := &mockProvider{err: &QuotaExceededError{}}
	adapter := New(provider)

	_, err := adapter.Align(context.Background(), "job-1", "hash-1", "raw", "url", "scraper-a")
	var quotaErr *QuotaExceededError
	assert.ErrorAs(t, err, &quotaErr)
}
