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
	"log/slog"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
	"github.com/tiktoken-go/tokenizer"
)

// History is the append-only record of successful turns for one session.
//
// # Description
//
// Turns are kept in completion order. The rendered context block is
// rebuilt on every request: newest turns are admitted first until the
// token budget is reached, then the admitted turns are rendered
// oldest-first so the model reads the conversation chronologically.
// Turns are never mutated or summarized; when the budget forces a
// choice, whole old turns drop out.
//
// # Thread Safety
//
// Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	turns []datatypes.Turn
	codec tokenizer.Codec
}

// NewHistory creates an empty history. Token costing uses the
// cl100k_base codec; if the codec cannot be constructed the store falls
// back to a bytes/4 estimate.
func NewHistory() *History {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		slog.Warn("cl100k_base codec unavailable, falling back to byte estimate", "error", err)
		codec = nil
	}
	return &History{codec: codec}
}

// Append records a completed turn.
func (h *History) Append(t datatypes.Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, t)
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Turns returns a copy of all recorded turns, oldest first.
func (h *History) Turns() []datatypes.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]datatypes.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Clear drops all turns.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}

// ContextBlock renders the history for prompt inclusion under the given
// token budget.
//
// The walk admits turns newest-first; a turn that would blow the budget
// stops the walk. A single turn larger than the whole budget is degraded
// rather than dropped: first the result preview goes, then the
// rationale, so the question and query always survive.
func (h *History) ContextBlock(budgetTokens int) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.turns) == 0 || budgetTokens <= 0 {
		return ""
	}

	var admitted []string
	used := 0
	for i := len(h.turns) - 1; i >= 0; i-- {
		block := renderTurn(h.turns[i])
		cost := h.countTokens(block)
		if used+cost > budgetTokens {
			if len(admitted) > 0 {
				break
			}
			// The newest turn alone exceeds the budget: degrade it.
			reduced := h.turns[i]
			reduced.ResultPreview = ""
			block = renderTurn(reduced)
			if h.countTokens(block) > budgetTokens {
				reduced.Rationale = ""
				block = renderTurn(reduced)
			}
			cost = h.countTokens(block)
		}
		admitted = append(admitted, block)
		used += cost
	}

	// Admitted newest-first; render oldest-first.
	var b strings.Builder
	for i := len(admitted) - 1; i >= 0; i-- {
		b.WriteString(admitted[i])
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *History) countTokens(s string) int {
	if h.codec != nil {
		if ids, _, err := h.codec.Encode(s); err == nil {
			return len(ids)
		}
	}
	return (len(s) + 3) / 4
}

func renderTurn(t datatypes.Turn) string {
	var b strings.Builder
	b.WriteString("<turn>\n")
	fmt.Fprintf(&b, "<Q>%s</Q>\n", t.Question)
	if t.ResultPreview != "" {
		fmt.Fprintf(&b, "<A>%s</A>\n", t.ResultPreview)
	}
	if len(t.UsedColumns) > 0 {
		fmt.Fprintf(&b, "<used_columns>%s</used_columns>\n", strings.Join(t.UsedColumns, ", "))
	}
	if t.Rationale != "" {
		fmt.Fprintf(&b, "<why>%s</why>\n", t.Rationale)
	}
	fmt.Fprintf(&b, "<query>%s</query>\n", t.Query)
	b.WriteString("</turn>")
	return b.String()
}
