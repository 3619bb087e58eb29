package llmadapter

import (
	"context"
	"regexp"
	"strings"

	"github.com/foodatlas/pipeline/internal/model"
)

// Provider is the explicit interface every LLM backend implements — no
// reflective or class-hierarchy polymorphism, per Design Notes §9. Each
// concrete provider is stateless except for whatever rate-limiter it holds
// internally.
type Provider interface {
	// Generate sends prompt to the model and returns its raw text output.
	// The returned error, if any, must be one of the *Error types in
	// errors.go so Classify can route it correctly.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Adapter converts an LLMJob's raw text into an AlignedRecord by invoking a
// single configured Provider.
type Adapter struct {
	provider Provider
}

// New returns an Adapter backed by provider.
func New(provider Provider) *Adapter {
	return &Adapter{provider: provider}
}

var codeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// Align runs the adapter's public contract: build a prompt from rawText,
// invoke the provider, strip any markdown fence, and strictly parse the
// result against the HSDS-aligned schema.
func (a *Adapter) Align(ctx context.Context, jobID, contentHash, rawText, sourceURL, scraperID string) (*model.AlignedRecord, error) {
	prompt := BuildPrompt(rawText)

	raw, err := a.provider.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	cleaned := stripCodeFence(raw)
	wire, err := model.ParseAlignedOutput([]byte(cleaned))
	if err != nil {
		return nil, &SchemaViolationError{Cause: err}
	}

	return &model.AlignedRecord{
		JobID:        jobID,
		ContentHash:  contentHash,
		Organization: wire.Organization,
		Location:     wire.Location,
		Services:     wire.Services,
		Schedules:    wire.Schedules,
		SourceURL:    sourceURL,
		ScraperID:    scraperID,
	}, nil
}
