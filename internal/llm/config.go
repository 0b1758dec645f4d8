// Package llm wraps the language-model provider used to classify job postings.
package llm

import "time"

// Provider represents an LLM provider
type Provider string

// Supported providers
const (
	ProviderGemini Provider = "gemini"
)

// DefaultModel is the Gemini model used for classification.
const DefaultModel = "gemini-2.5-flash"

// Config holds the model configuration.
type Config struct {
	Provider    Provider
	Model       string
	Temperature float32
	// MaxOutputTokens bounds the verdict size; 0 leaves the provider default.
	MaxOutputTokens int32
	// Timeout bounds one request; 0 relies on the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns the default Gemini configuration.
// Temperature is zero so repeated runs over the same posting agree.
func DefaultConfig() *Config {
	return &Config{
		Provider:        ProviderGemini,
		Model:           DefaultModel,
		Temperature:     0,
		MaxOutputTokens: 512,
	}
}

// WithModel returns a copy of c using model. An empty model keeps the current one.
func (c *Config) WithModel(model string) *Config {
	cp := *c
	if model != "" {
		cp.Model = model
	}
	return &cp
}
