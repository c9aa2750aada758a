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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// =============================================================================
// Types
// =============================================================================

// RewriteResult is the structured output of the rewrite stage.
//
// # JSON Serialization
//
//	{
//	    "is_related": true,
//	    "reason": "follow-up refers to the previous region ranking",
//	    "rewritten": "Which region had the second highest total sales in 2024?",
//	    "core_columns_hint": ["region", "total"]
//	}
type RewriteResult struct {
	// IsRelated reports whether the question can be answered from the
	// table at all. Unrelated questions short-circuit the pipeline.
	IsRelated bool `json:"is_related"`

	// Reason is the model's one-line justification, kept for audit.
	Reason string `json:"reason"`

	// Rewritten is the self-contained restatement of the question with
	// pronouns and elliptical references resolved from history.
	Rewritten string `json:"rewritten"`

	// CoreColumnsHint names the columns the rewriter believes the
	// answer needs. Advisory only.
	CoreColumnsHint []string `json:"core_columns_hint"`
}

// Rewriter resolves a raw user question into an explicit, self-contained
// question using conversation history and the table schema.
//
// # Thread Safety
//
// Safe for concurrent use.
type Rewriter struct {
	generate GenerateFunc
	config   Config
}

// NewRewriter creates a Rewriter using the given generate function.
func NewRewriter(generate GenerateFunc, config Config) *Rewriter {
	return &Rewriter{generate: generate, config: config}
}

// Rewrite runs the rewrite stage.
//
// # Description
//
// The model is asked for a strict JSON object. A response with no
// parseable JSON object is a *SynthesisError so the retry loop can run
// the stage again; a parsed object with an empty "rewritten" field falls
// back to the original question, since the model clearly understood the
// task and chose not to rewrite.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - question: The raw user question.
//   - schema: Descriptor of the active table.
//   - historyContext: Rendered history block, may be empty.
//
// # Outputs
//
//   - *RewriteResult: The parsed stage output.
//   - error: *SynthesisError for unusable model output, or the wrapped
//     transport error.
func (r *Rewriter) Rewrite(ctx context.Context, question string, schema *datatypes.SchemaDescriptor, historyContext string) (*RewriteResult, error) {
	prompt := r.buildRewritePrompt(question, schema, historyContext)

	response, err := r.generate(ctx, prompt, r.config.RewriteMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("rewrite LLM call failed: %w", err)
	}

	result, err := parseRewriteResponse(response)
	if err != nil {
		return nil, &SynthesisError{Stage: "rewrite", Reason: err.Error(), Raw: response}
	}
	if strings.TrimSpace(result.Rewritten) == "" {
		result.Rewritten = question
	}
	return result, nil
}

func (r *Rewriter) buildRewritePrompt(question string, schema *datatypes.SchemaDescriptor, historyContext string) string {
	var history string
	if historyContext != "" {
		history = "Conversation so far:\n" + historyContext + "\n\n"
	}

	return fmt.Sprintf(`You are a question rewriter for a tabular data assistant. Decide whether the user's question can be answered from the table below, and restate it as a single self-contained question with all pronouns and references resolved from the conversation.

%s
%sUser question: %s

Rules:
- Use only columns that exist in the table.
- If the question has nothing to do with the table, set is_related to false.
- Do not answer the question; only restate it.

Respond with JSON only:
{"is_related": true, "reason": "...", "rewritten": "...", "core_columns_hint": ["col1", "col2"]}`,
		schema.PromptBlock(), history, question)
}

// parseRewriteResponse extracts the JSON object from the LLM response.
//
// Models love to wrap JSON in code fences or commentary; the brace
// window between the first '{' and the last '}' is what gets parsed.
func parseRewriteResponse(response string) (*RewriteResult, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no valid JSON found in response")
	}

	var result RewriteResult
	if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return &result, nil
}
