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

// Query variants.
const (
	VariantSQL       = "sql"
	VariantDataframe = "dataframe"
)

// Synthesizer turns a rewritten question into an executable query
// candidate. One Synthesizer serves one variant (SQL or dataframe).
//
// # Thread Safety
//
// Safe for concurrent use.
type Synthesizer struct {
	generate GenerateFunc
	config   Config
	variant  string
}

// NewSynthesizer creates a Synthesizer for the given variant.
func NewSynthesizer(generate GenerateFunc, config Config, variant string) *Synthesizer {
	return &Synthesizer{generate: generate, config: config, variant: variant}
}

// SynthesisInput bundles everything the synthesis prompt draws on.
type SynthesisInput struct {
	Question       string
	Schema         *datatypes.SchemaDescriptor
	HistoryContext string
	Shots          []Shot

	// Feedback is non-empty on repair passes: guard violations, the
	// empty-result nudge, or the execution error detail.
	Feedback string

	// PreviousQuery is the candidate the feedback refers to.
	PreviousQuery string
}

// Synthesize produces a query candidate.
//
// The model must answer with a strict JSON object; unparseable output is
// a *SynthesisError. The candidate's SourceStage records whether it came
// from a first pass or a repair pass.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (*datatypes.QueryCandidate, error) {
	stage := datatypes.StageSynthesis
	if in.Feedback != "" {
		stage = datatypes.StageRepair
	}

	prompt := s.buildPrompt(in)
	response, err := s.generate(ctx, prompt, s.config.SynthesisMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("%s LLM call failed: %w", stage, err)
	}

	candidate, err := parseSynthesisResponse(response)
	if err != nil {
		return nil, &SynthesisError{Stage: stage, Reason: err.Error(), Raw: response}
	}
	candidate.SourceStage = stage
	return candidate, nil
}

func (s *Synthesizer) buildPrompt(in SynthesisInput) string {
	var b strings.Builder

	switch s.variant {
	case VariantDataframe:
		b.WriteString(`You write pandas expressions against a dataframe named df. Produce exactly one expression that evaluates to the answer as a dataframe.

Rules:
- Use only the columns listed below, spelled exactly as given.
- Only pandas and numpy are available; never import anything else.
- Never read or write files, call eval/exec, or touch the network.
- Preserve the hidden __row_idx column when selecting rows.
`)
	default:
		b.WriteString(`You write SQL for a read-only analytical database. Produce exactly one SELECT (or WITH) statement that answers the question.

Rules:
- Use only the tables and columns listed below, spelled exactly as given.
- Never modify data or schema; a single statement only.
- Cast before arithmetic on text-typed numeric columns and guard against NULLs.
- Break ties by first occurrence (no extra ORDER BY keys).
`)
	}

	b.WriteString("\n")
	b.WriteString(in.Schema.PromptBlock())

	if in.HistoryContext != "" {
		b.WriteString("\nConversation so far:\n")
		b.WriteString(in.HistoryContext)
		b.WriteString("\n")
	}

	if len(in.Shots) > 0 {
		b.WriteString("\nExamples of good answers for this table:\n")
		for _, shot := range in.Shots {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", shot.Question, shot.Query)
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", in.Question)

	if in.Feedback != "" {
		fmt.Fprintf(&b, "\nYour previous attempt was:\n%s\n\nIt failed: %s\nProduce a corrected query.\n", in.PreviousQuery, in.Feedback)
	}

	b.WriteString(`
Respond with JSON only:
{"query": "...", "reasoning": "...", "columns": ["col1", "col2"]}`)

	return b.String()
}

// parseSynthesisResponse extracts the candidate from the LLM response.
func parseSynthesisResponse(response string) (*datatypes.QueryCandidate, error) {
	cleaned := stripCodeFences(response)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no valid JSON found in response")
	}

	var parsed struct {
		Query     string   `json:"query"`
		SQL       string   `json:"sql"`
		Code      string   `json:"code"`
		Reasoning string   `json:"reasoning"`
		Columns   []string `json:"columns"`
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	// Accept the aliases weaker models produce.
	text := parsed.Query
	if text == "" {
		text = parsed.SQL
	}
	if text == "" {
		text = parsed.Code
	}
	text = strings.TrimSpace(stripCodeFences(text))
	if text == "" {
		return nil, fmt.Errorf("response contains no query text")
	}

	return &datatypes.QueryCandidate{
		Text:            text,
		DeclaredColumns: parsed.Columns,
		Rationale:       parsed.Reasoning,
	}, nil
}

// stripCodeFences removes markdown code fences (```sql ... ``` and
// friends) while leaving the enclosed text intact.
func stripCodeFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
