// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"strings"
	"time"
)

// ColumnDescriptor describes one column of a source table, including a
// handful of distinct sample values so the synthesizer can ground
// literal predicates in real data.
type ColumnDescriptor struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Samples []string `json:"samples,omitempty"`
}

// SchemaDescriptor is the introspected shape of a single source table.
// Descriptors are cached; IntrospectedAt records cache age.
type SchemaDescriptor struct {
	Table          string             `json:"table"`
	Columns        []ColumnDescriptor `json:"columns"`
	RowCount       int64              `json:"row_count"`
	IntrospectedAt time.Time          `json:"introspected_at"`
}

// PromptBlock renders the descriptor in the compact form fed to the
// synthesis prompts.
func (s *SchemaDescriptor) PromptBlock() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s (%d rows)\nColumns:\n", s.Table, s.RowCount)
	for _, col := range s.Columns {
		fmt.Fprintf(&b, "  - %s (%s)", col.Name, col.Type)
		if len(col.Samples) > 0 {
			fmt.Fprintf(&b, " e.g. %s", strings.Join(col.Samples, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ColumnNames returns the column names in declaration order.
func (s *SchemaDescriptor) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table declares the named column.
func (s *SchemaDescriptor) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
