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

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// Executor runs a guard-approved query against a data backend.
//
// # Description
//
// Implementations must classify failures as *ExecutionError with class
// transient or syntax; any other error is treated as fatal. An empty
// result is NOT an error: it is a table with zero rows, and the retry
// controller decides what to do with it.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Executor interface {
	// Variant names the query dialect this executor runs ("sql" or
	// "dataframe"). The controller routes guard checks on it.
	Variant() string

	// Execute runs the normalized query text and returns the result.
	Execute(ctx context.Context, query string) (*datatypes.Table, error)

	// RowLookup fetches full source rows by identifier values, used by
	// the reconciler to expand small identifier-bearing results.
	RowLookup(ctx context.Context, table, idColumn string, ids []string) (*datatypes.Table, error)
}

// Introspector discovers the shape of the underlying data source.
type Introspector interface {
	ListTables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, table string) (*datatypes.SchemaDescriptor, error)
}
