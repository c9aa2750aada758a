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
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

func TestReconciler_ExpandsSmallResult(t *testing.T) {
	exec := &fakeExecutor{
		results: []execResult{{table: resultTable()}},
		lookup: &datatypes.Table{
			Columns: []string{"__row_idx", "region", "total", "year"},
			Rows: [][]string{
				{"7", "east", "99.0", "2024"},
				{"3", "west", "10.5", "2023"},
			},
		},
	}
	r := NewReconciler(DefaultConfig(), exec)

	projected := &datatypes.Table{
		Columns: []string{"__row_idx", "region"},
		Rows:    [][]string{{"3", "west"}, {"7", "east"}},
	}
	final, markdown := r.Reconcile(context.Background(), projected, "sales")

	if final.ColumnIndex("__row_idx") != -1 {
		t.Error("identifier column must be stripped from the final table")
	}
	if len(final.Columns) != 3 {
		t.Errorf("expected full source columns, got %v", final.Columns)
	}
	// Result order, not lookup order.
	if final.Rows[0][0] != "west" || final.Rows[1][0] != "east" {
		t.Errorf("expansion must preserve result order, got %v", final.Rows)
	}
	if !strings.Contains(markdown, "2023") {
		t.Errorf("markdown missing expanded column data:\n%s", markdown)
	}
}

func TestReconciler_PassthroughAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExpansionThreshold = 2
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	r := NewReconciler(cfg, exec)

	big := &datatypes.Table{
		Columns: []string{"__row_idx", "region"},
		Rows:    [][]string{{"1", "a"}, {"2", "b"}, {"3", "c"}},
	}
	final, _ := r.Reconcile(context.Background(), big, "sales")

	if final.RowCount() != 3 {
		t.Errorf("passthrough should keep all rows, got %d", final.RowCount())
	}
	if final.ColumnIndex("__row_idx") != -1 {
		t.Error("identifier column must be stripped even on passthrough")
	}
}

func TestReconciler_PassthroughWithoutIDColumn(t *testing.T) {
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	r := NewReconciler(DefaultConfig(), exec)

	aggregated := &datatypes.Table{
		Columns: []string{"region", "sum_total"},
		Rows:    [][]string{{"west", "10.5"}},
	}
	final, markdown := r.Reconcile(context.Background(), aggregated, "sales")

	if len(final.Columns) != 2 || final.RowCount() != 1 {
		t.Errorf("aggregated result should pass through untouched, got %v", final)
	}
	if !strings.Contains(markdown, "sum_total") {
		t.Errorf("markdown missing aggregated column:\n%s", markdown)
	}
}

func TestReconciler_LookupFailureFallsBack(t *testing.T) {
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}} // no lookup scripted
	r := NewReconciler(DefaultConfig(), exec)

	projected := &datatypes.Table{
		Columns: []string{"__row_idx", "region"},
		Rows:    [][]string{{"3", "west"}},
	}
	final, markdown := r.Reconcile(context.Background(), projected, "sales")

	if final.RowCount() != 1 {
		t.Errorf("fallback must keep the unexpanded rows, got %d", final.RowCount())
	}
	if final.ColumnIndex("__row_idx") != -1 {
		t.Error("identifier column must still be stripped on fallback")
	}
	if !strings.Contains(markdown, "west") {
		t.Errorf("fallback markdown missing data:\n%s", markdown)
	}
}

func TestReconciler_DuplicateIDsCollapse(t *testing.T) {
	exec := &fakeExecutor{
		results: []execResult{{table: resultTable()}},
		lookup: &datatypes.Table{
			Columns: []string{"__row_idx", "region", "total"},
			Rows:    [][]string{{"3", "west", "10.5"}},
		},
	}
	r := NewReconciler(DefaultConfig(), exec)

	projected := &datatypes.Table{
		Columns: []string{"__row_idx", "region"},
		Rows:    [][]string{{"3", "west"}, {"3", "west"}},
	}
	final, _ := r.Reconcile(context.Background(), projected, "sales")

	if final.RowCount() != 1 {
		t.Errorf("duplicate identifiers should collapse, got %d rows", final.RowCount())
	}
}

func TestTableMarkdown_EmptySentinel(t *testing.T) {
	empty := &datatypes.Table{}
	md := empty.Markdown()
	if !strings.Contains(md, "(empty)") || !strings.Contains(md, "(no rows)") {
		t.Errorf("empty table sentinel malformed:\n%s", md)
	}
}
