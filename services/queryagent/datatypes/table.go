// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the query agent service.
package datatypes

import "strings"

// Table is the tabular result of an executed query. Cells are carried as
// strings so rendering and history previews are deterministic regardless
// of the executor backend.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (t *Table) RowCount() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) IsEmpty() bool {
	return t.RowCount() == 0
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// WithoutColumn returns a copy of the table with the named column
// removed. Used to strip internal bookkeeping columns before rendering.
func (t *Table) WithoutColumn(name string) *Table {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return t
	}
	out := &Table{Columns: make([]string, 0, len(t.Columns)-1)}
	out.Columns = append(out.Columns, t.Columns[:idx]...)
	out.Columns = append(out.Columns, t.Columns[idx+1:]...)
	for _, row := range t.Rows {
		if idx >= len(row) {
			out.Rows = append(out.Rows, row)
			continue
		}
		newRow := make([]string, 0, len(row)-1)
		newRow = append(newRow, row[:idx]...)
		newRow = append(newRow, row[idx+1:]...)
		out.Rows = append(out.Rows, newRow)
	}
	return out
}

// Markdown renders the table in the canonical pipe format. An empty or
// column-less table renders as the fixed empty sentinel so downstream
// consumers can rely on a stable shape.
func (t *Table) Markdown() string {
	if t == nil || len(t.Columns) == 0 || t.IsEmpty() {
		return "| (empty) |\n|---|\n| (no rows) |"
	}
	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(t.Columns, " | "))
	b.WriteString(" |\n|")
	for range t.Columns {
		b.WriteString("---|")
	}
	for _, row := range t.Rows {
		b.WriteString("\n| ")
		cells := make([]string, len(t.Columns))
		for i := range t.Columns {
			if i < len(row) {
				cells[i] = sanitizeCell(row[i])
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |")
	}
	return b.String()
}

// sanitizeCell keeps cell content from breaking the pipe layout.
func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
