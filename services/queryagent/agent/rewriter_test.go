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

func testSchema() *datatypes.SchemaDescriptor {
	return &datatypes.SchemaDescriptor{
		Table: "sales",
		Columns: []datatypes.ColumnDescriptor{
			{Name: "region", Type: "TEXT", Samples: []string{"west", "east"}},
			{Name: "total", Type: "REAL", Samples: []string{"10.5", "99.0"}},
		},
		RowCount: 42,
	}
}

func staticGenerate(response string) GenerateFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return response, nil
	}
}

func TestRewriter_Rewrite(t *testing.T) {
	tests := []struct {
		name          string
		response      string
		wantRelated   bool
		wantRewritten string
		wantErr       bool
	}{
		{
			name:          "clean JSON",
			response:      `{"is_related": true, "reason": "direct", "rewritten": "Total sales by region", "core_columns_hint": ["region", "total"]}`,
			wantRelated:   true,
			wantRewritten: "Total sales by region",
		},
		{
			name:          "JSON wrapped in commentary",
			response:      "Sure, here is the result:\n{\"is_related\": true, \"reason\": \"x\", \"rewritten\": \"Which region sold most?\"}\nHope that helps!",
			wantRelated:   true,
			wantRewritten: "Which region sold most?",
		},
		{
			name:        "unrelated question",
			response:    `{"is_related": false, "reason": "asks about the weather", "rewritten": ""}`,
			wantRelated: false,
		},
		{
			name:    "no JSON at all",
			response: "I cannot produce JSON right now.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			response: `{"is_related": true, "rewritten": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRewriter(staticGenerate(tt.response), DefaultConfig())
			got, err := r.Rewrite(context.Background(), "original question", testSchema(), "")

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
			if got.IsRelated != tt.wantRelated {
				t.Errorf("IsRelated = %v, want %v", got.IsRelated, tt.wantRelated)
			}
			if tt.wantRelated && got.Rewritten != tt.wantRewritten {
				t.Errorf("Rewritten = %q, want %q", got.Rewritten, tt.wantRewritten)
			}
		})
	}
}

func TestRewriter_EmptyRewrittenFallsBack(t *testing.T) {
	r := NewRewriter(staticGenerate(`{"is_related": true, "reason": "already explicit", "rewritten": "  "}`), DefaultConfig())
	got, err := r.Rewrite(context.Background(), "How many rows?", testSchema(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Rewritten != "How many rows?" {
		t.Errorf("expected fallback to the original question, got %q", got.Rewritten)
	}
}

func TestRewriter_TransportErrorIsNotSynthesisError(t *testing.T) {
	boom := errors.New("connection refused")
	r := NewRewriter(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		return "", boom
	}, DefaultConfig())

	_, err := r.Rewrite(context.Background(), "q", testSchema(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		t.Error("transport failures must not be classified as synthesis errors")
	}
	if !errors.Is(err, boom) {
		t.Error("transport error should be wrapped, not replaced")
	}
}

func TestRewriter_PromptIncludesSchemaAndHistory(t *testing.T) {
	var captured string
	r := NewRewriter(func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		captured = prompt
		return `{"is_related": true, "rewritten": "q"}`, nil
	}, DefaultConfig())

	history := "<turn>\n<Q>prior</Q>\n<query>SELECT 1</query>\n</turn>"
	if _, err := r.Rewrite(context.Background(), "and for east?", testSchema(), history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"region", "total", "prior", "and for east?"} {
		if !strings.Contains(captured, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
