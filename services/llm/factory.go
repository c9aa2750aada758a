package llm

import (
	"fmt"
	"log/slog"
)

// NewClient builds the configured LLM backend. Backend-specific settings
// (API keys, base URLs, model names) come from the environment.
func NewClient(backend string) (LLMClient, error) {
	switch backend {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return NewOllamaClient()
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) LLM backend")
		return NewAnthropicClient()
	case "":
		slog.Warn("LLM backend not set, defaulting to ollama")
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", backend)
	}
}
