package provider

import (
	"fmt"

	"nore/config"
)

// Provider type identifiers accepted in configuration.
const (
	TypeOllama    = "ollama"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
)

// NewProvider builds the configured backend. Unknown types are an
// error, not a silent fallback.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Default {
	case TypeOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case TypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case TypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Default)
	}
}
