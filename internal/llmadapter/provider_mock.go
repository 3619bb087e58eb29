package llmadapter

import "context"

// MockProvider returns a fixed response regardless of prompt, for local
// development and tests that need a deterministic LLM adapter without
// network access or a subprocess dependency.
type MockProvider struct {
	Response string
	Err      error
}

// NewMockProvider returns a Provider that always returns response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

// Generate returns p.Response, or p.Err if set.
func (p *MockProvider) Generate(_ context.Context, _ string) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	return p.Response, nil
}
