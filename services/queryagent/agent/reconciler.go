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
	"log/slog"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// Reconciler turns a raw execution result into the final answer table.
//
// # Description
//
// Queries are synthesized over data that carries a hidden row-identifier
// column. When a result is small (at most the expansion threshold) and
// still carries that column, the reconciler fetches the full source rows
// for those identifiers so the user sees complete records instead of the
// projected slice. Larger results, and results whose identifier column
// was aggregated away, pass through with only the identifier column
// stripped. Expansion preserves result order and drops duplicate
// identifiers.
//
// Expansion is strictly best-effort: a failed lookup logs and falls back
// to the unexpanded result rather than failing a run that already
// produced valid data.
type Reconciler struct {
	config   Config
	executor Executor
}

func NewReconciler(config Config, executor Executor) *Reconciler {
	return &Reconciler{config: config, executor: executor}
}

// Reconcile produces the final table and its markdown rendering.
func (r *Reconciler) Reconcile(ctx context.Context, table *datatypes.Table, sourceTable string) (*datatypes.Table, string) {
	idCol := r.config.RowIDColumn
	idx := table.ColumnIndex(idCol)
	if idx < 0 || table.RowCount() > r.config.ExpansionThreshold {
		final := table.WithoutColumn(idCol)
		return final, final.Markdown()
	}

	ids := uniqueOrdered(table, idx)
	if len(ids) == 0 {
		final := table.WithoutColumn(idCol)
		return final, final.Markdown()
	}

	full, err := r.executor.RowLookup(ctx, sourceTable, idCol, ids)
	if err != nil {
		slog.Warn("row expansion lookup failed, returning unexpanded result", "table", sourceTable, "error", err)
		final := table.WithoutColumn(idCol)
		return final, final.Markdown()
	}

	expanded := reorderByIDs(full, idCol, ids)
	final := expanded.WithoutColumn(idCol)
	return final, final.Markdown()
}

// uniqueOrdered collects identifier values in first-occurrence order.
func uniqueOrdered(t *datatypes.Table, idx int) []string {
	seen := make(map[string]struct{}, len(t.Rows))
	var ids []string
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		id := row[idx]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// reorderByIDs arranges looked-up rows to match the result order the
// query produced. Identifiers the lookup did not return are skipped.
func reorderByIDs(full *datatypes.Table, idCol string, ids []string) *datatypes.Table {
	idx := full.ColumnIndex(idCol)
	if idx < 0 {
		return full
	}
	byID := make(map[string][]string, len(full.Rows))
	for _, row := range full.Rows {
		if idx < len(row) {
			byID[row[idx]] = row
		}
	}
	out := &datatypes.Table{Columns: full.Columns}
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
