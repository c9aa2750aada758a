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
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

func TestSynthesizer_ParseVariants(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantText string
		wantErr  bool
	}{
		{
			name:     "query key",
			response: `{"query": "SELECT region FROM sales", "reasoning": "direct", "columns": ["region"]}`,
			wantText: "SELECT region FROM sales",
		},
		{
			name:     "sql alias key",
			response: `{"sql": "SELECT 1", "reasoning": "r"}`,
			wantText: "SELECT 1",
		},
		{
			name:     "code alias key",
			response: `{"code": "df[df.total > 5]"}`,
			wantText: "df[df.total > 5]",
		},
		{
			name:     "fenced JSON",
			response: "```json\n{\"query\": \"SELECT 2\"}\n```",
			wantText: "SELECT 2",
		},
		{
			name:     "fenced query inside JSON",
			response: `{"query": "` + "```sql\\nSELECT 3\\n```" + `"}`,
			wantText: "SELECT 3",
		},
		{
			name:     "empty query text",
			response: `{"query": "   ", "reasoning": "r"}`,
			wantErr:  true,
		},
		{
			name:     "no JSON",
			response: "SELECT region FROM sales",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSynthesizer(staticGenerate(tt.response), DefaultConfig(), VariantSQL)
			got, err := s.Synthesize(context.Background(), SynthesisInput{
				Question: "q",
				Schema:   testSchema(),
			})

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var synthErr *SynthesisError
				if !errors.As(err, &synthErr) {
					t.Errorf("expected *SynthesisError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestSynthesizer_StageTagging(t *testing.T) {
	s := NewSynthesizer(staticGenerate(`{"query": "SELECT 1"}`), DefaultConfig(), VariantSQL)

	first, err := s.Synthesize(context.Background(), SynthesisInput{Question: "q", Schema: testSchema()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.SourceStage != datatypes.StageSynthesis {
		t.Errorf("first pass stage = %q, want %q", first.SourceStage, datatypes.StageSynthesis)
	}

	repaired, err := s.Synthesize(context.Background(), SynthesisInput{
		Question:      "q",
		Schema:        testSchema(),
		Feedback:      "syntax error near FROM",
		PreviousQuery: "SELEC 1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repaired.SourceStage != datatypes.StageRepair {
		t.Errorf("repair pass stage = %q, want %q", repaired.SourceStage, datatypes.StageRepair)
	}
}

func TestSynthesizer_PromptContents(t *testing.T) {
	var captured string
	gen := func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		captured = prompt
		return `{"query": "SELECT 1"}`, nil
	}

	t.Run("repair pass carries previous attempt and feedback", func(t *testing.T) {
		s := NewSynthesizer(gen, DefaultConfig(), VariantSQL)
		_, err := s.Synthesize(context.Background(), SynthesisInput{
			Question:      "q",
			Schema:        testSchema(),
			Feedback:      "returned no rows; broaden it",
			PreviousQuery: "SELECT * FROM sales WHERE 1=0",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(captured, "SELECT * FROM sales WHERE 1=0") {
			t.Error("repair prompt missing the previous query")
		}
		if !strings.Contains(captured, "broaden it") {
			t.Error("repair prompt missing the failure feedback")
		}
	})

	t.Run("shots are rendered as examples", func(t *testing.T) {
		s := NewSynthesizer(gen, DefaultConfig(), VariantSQL)
		_, err := s.Synthesize(context.Background(), SynthesisInput{
			Question: "q",
			Schema:   testSchema(),
			Shots: []Shot{
				{Question: "Count the rows", Query: "SELECT COUNT(*) FROM sales"},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(captured, "SELECT COUNT(*) FROM sales") {
			t.Error("prompt missing the few-shot example query")
		}
	})

	t.Run("dataframe variant uses pandas preamble", func(t *testing.T) {
		s := NewSynthesizer(gen, DefaultConfig(), VariantDataframe)
		_, err := s.Synthesize(context.Background(), SynthesisInput{Question: "q", Schema: testSchema()})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(captured, "pandas") {
			t.Error("dataframe prompt missing pandas preamble")
		}
		if !strings.Contains(captured, "__row_idx") {
			t.Error("dataframe prompt missing row identifier instruction")
		}
	})
}
