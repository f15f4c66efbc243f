package ai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/amishk599/jobharvest/internal/config"
)

// LLMProvider sends a prompt to an LLM and returns the raw text response.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider builds the LLMProvider named by cfg.Provider.
func NewProvider(cfg config.LLMConfig, httpClient *http.Client) (LLMProvider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, httpClient), nil
	case "ollama":
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, httpClient), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Temperature, cfg.MaxTokens, httpClient), nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
}

// displayName is the provider label used in stored analysis errors.
func displayName(provider string) string {
	switch provider {
	case "openai":
		return "OpenAI"
	case "ollama":
		return "Ollama"
	case "anthropic":
		return "Anthropic"
	}
	return provider
}
