// Package llm provides the completion backend used by the generation pipeline.
// It wraps the provider SDK behind a narrow Client interface and classifies
// provider failures so callers can report them uniformly.
package llm

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
)

// DefaultMaxOutputTokens caps each completion; documents for 25-part BOMs fit well within it.
const DefaultMaxOutputTokens = 4000

// Config holds the model configuration for completion calls
type Config struct {
	Provider        Provider
	Model           string
	MaxOutputTokens int
	Temperature     float32
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider:        ProviderGemini,
		Model:           "gemini-2.5-flash",
		MaxOutputTokens: DefaultMaxOutputTokens,
		Temperature:     0.7,
	}
}

// WithModel returns a copy of the config using a different model
func (c *Config) WithModel(model string) *Config {
	newConfig := *c
	if model != "" {
		newConfig.Model = model
	}
	return &newConfig
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	defaults := DefaultConfig()
	result := *c
	if result.Provider == "" {
		result.Provider = defaults.Provider
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.MaxOutputTokens <= 0 {
		result.MaxOutputTokens = defaults.MaxOutputTokens
	}
	return &result
}
