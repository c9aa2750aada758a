package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder produces a vector for a piece of text. Used by the few-shot
// example store; backends that cannot embed should not implement it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Float32Ptr and IntPtr are small helpers for building GenerationParams
// literals at call sites.
func Float32Ptr(v float32) *float32 { return &v }

func IntPtr(v int) *int { return &v }
