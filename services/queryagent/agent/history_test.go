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
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

func makeTurn(i int, padding int) datatypes.Turn {
	return datatypes.Turn{
		ID:            fmt.Sprintf("turn-%03d", i),
		Question:      fmt.Sprintf("question %d %s", i, strings.Repeat("x", padding)),
		Query:         fmt.Sprintf("SELECT %d FROM t", i),
		Rationale:     "counting rows",
		UsedColumns:   []string{"region", "total"},
		ResultPreview: "| region |\n|---|\n| west |",
	}
}

func TestHistory_ContextBlockOrdering(t *testing.T) {
	h := NewHistory()
	for i := 1; i <= 3; i++ {
		h.Append(makeTurn(i, 0))
	}

	block := h.ContextBlock(100000)

	first := strings.Index(block, "question 1")
	second := strings.Index(block, "question 2")
	third := strings.Index(block, "question 3")
	if first == -1 || second == -1 || third == -1 {
		t.Fatalf("expected all three turns in block, got:\n%s", block)
	}
	if !(first < second && second < third) {
		t.Errorf("turns not rendered oldest-first: positions %d, %d, %d", first, second, third)
	}
}

func TestHistory_BudgetNeverExceeded(t *testing.T) {
	h := NewHistory()
	for i := 1; i <= 20; i++ {
		h.Append(makeTurn(i, 200))
	}

	budget := 500
	block := h.ContextBlock(budget)
	if block == "" {
		t.Fatal("expected non-empty block")
	}
	// The joining newlines can cost a few tokens beyond the per-turn
	// accounting; allow that much slack and no more.
	if got := h.countTokens(block); got > budget+20 {
		t.Errorf("rendered block costs %d tokens, budget %d", got, budget)
	}

	// Newest turns survive when the budget forces dropping.
	if !strings.Contains(block, "question 20") {
		t.Error("newest turn missing from budget-limited block")
	}
	if strings.Contains(block, "question 1 ") {
		t.Error("oldest turn should have been dropped under budget pressure")
	}
}

func TestHistory_OversizedNewestTurnDegraded(t *testing.T) {
	h := NewHistory()
	turn := makeTurn(1, 0)
	turn.ResultPreview = strings.Repeat("| data |\n", 500)
	turn.Rationale = strings.Repeat("because ", 200)
	h.Append(turn)

	block := h.ContextBlock(60)
	if block == "" {
		t.Fatal("oversized turn must degrade, not vanish")
	}
	if strings.Contains(block, "| data |") {
		t.Error("result preview should be dropped first during degradation")
	}
	if !strings.Contains(block, "<Q>") || !strings.Contains(block, "<query>") {
		t.Error("question and query must survive degradation")
	}
}

func TestHistory_EmptyAndZeroBudget(t *testing.T) {
	h := NewHistory()
	if got := h.ContextBlock(1000); got != "" {
		t.Errorf("empty history should render empty block, got %q", got)
	}
	h.Append(makeTurn(1, 0))
	if got := h.ContextBlock(0); got != "" {
		t.Errorf("zero budget should render empty block, got %q", got)
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory()
	h.Append(makeTurn(1, 0))
	h.Append(makeTurn(2, 0))
	if h.Len() != 2 {
		t.Fatalf("expected 2 turns, got %d", h.Len())
	}
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("expected 0 turns after clear, got %d", h.Len())
	}
	if got := h.ContextBlock(1000); got != "" {
		t.Errorf("cleared history should render empty block, got %q", got)
	}
}

func TestHistory_TurnsReturnsCopy(t *testing.T) {
	h := NewHistory()
	h.Append(makeTurn(1, 0))
	turns := h.Turns()
	turns[0].Question = "mutated"
	if h.Turns()[0].Question == "mutated" {
		t.Error("Turns must return a copy, not the backing slice")
	}
}

func TestHistory_Concurrency(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h.Append(makeTurn(i, 0))
		}(i)
		go func() {
			defer wg.Done()
			_ = h.ContextBlock(500)
		}()
	}
	wg.Wait()
	if h.Len() != 50 {
		t.Errorf("expected 50 turns, got %d", h.Len())
	}
}

func BenchmarkHistoryContextBlock(b *testing.B) {
	h := NewHistory()
	for i := 0; i < 30; i++ {
		h.Append(makeTurn(i, 100))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = h.ContextBlock(3000)
	}
}
