// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"

	"github.com/AleutianAI/AleutianQuery/services/llm"
)

// GenerateFunc is a function type for LLM text generation.
//
// # Description
//
// Using a function type instead of an interface allows callers to pass
// a simple closure, eliminating the need for adapter structs when the
// underlying LLM client has a different signature. Tests script the
// pipeline by supplying deterministic closures.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - prompt: The prompt to send to the LLM.
//   - maxTokens: Maximum tokens in the response.
//
// # Outputs
//
//   - string: The generated text.
//   - error: Non-nil if generation fails.
type GenerateFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// WrapLLMClient adapts an llm.LLMClient into a GenerateFunc with a fixed
// low temperature suited to query synthesis.
func WrapLLMClient(client llm.LLMClient) GenerateFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		params := llm.GenerationParams{
			Temperature: llm.Float32Ptr(0.1),
			MaxTokens:   &maxTokens,
		}
		return client.Generate(ctx, prompt, params)
	}
}
