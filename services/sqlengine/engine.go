// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlengine executes guard-approved SQL against a SQLite
// database and introspects its tables for prompt construction.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/AleutianQuery/pkg/validation"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// sampleLimit caps the distinct sample values collected per column
// during introspection.
const sampleLimit = 5

// Engine runs SELECT statements against a SQLite database.
//
// # Description
//
// The engine is strictly read-only: the connection opens in query-only
// mode, so even a statement that slipped past the guard cannot mutate
// data. Result cells are rendered as strings; NULL becomes the empty
// string.
//
// # Thread Safety
//
// Safe for concurrent use. SQLite supports concurrent readers under WAL.
type Engine struct {
	db  *sql.DB
	dsn string
}

// Open opens the SQLite database at path in read-only mode.
func Open(path string) (*Engine, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=1&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Engine{db: db, dsn: dsn}, nil
}

// OpenDB wraps an already-open database handle. Used by tests and by
// callers that manage the pool themselves.
func OpenDB(db *sql.DB, dsn string) *Engine {
	return &Engine{db: db, dsn: dsn}
}

// Close closes the database connection.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// DSN returns the data source name, used as the schema cache key prefix.
func (e *Engine) DSN() string {
	return e.dsn
}

// Variant reports the query dialect.
func (e *Engine) Variant() string {
	return agent.VariantSQL
}

// Execute runs one SELECT statement and materializes the result.
func (e *Engine) Execute(ctx context.Context, query string) (*datatypes.Table, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	table, err := scanRows(rows)
	if err != nil {
		return nil, classifyError(err)
	}
	return table, nil
}

// RowLookup fetches full rows whose identifier column matches ids.
// Table and column names are validated before interpolation; the values
// themselves go through placeholders.
func (e *Engine) RowLookup(ctx context.Context, table, idColumn string, ids []string) (*datatypes.Table, error) {
	if len(ids) == 0 {
		return &datatypes.Table{}, nil
	}
	quotedTable, err := validation.QuoteIdentifier(table)
	if err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	quotedCol, err := validation.QuoteIdentifier(idColumn)
	if err != nil {
		return nil, fmt.Errorf("invalid identifier column: %w", err)
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)", quotedTable, quotedCol, placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	table2, err := scanRows(rows)
	if err != nil {
		return nil, classifyError(err)
	}
	return table2, nil
}

// ListTables returns the user tables in the database, sorted by name.
func (e *Engine) ListTables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

// Describe introspects one table: column names and types from
// PRAGMA table_info, a handful of distinct sample values per column,
// and the row count.
func (e *Engine) Describe(ctx context.Context, table string) (*datatypes.SchemaDescriptor, error) {
	quotedTable, err := validation.QuoteIdentifier(table)
	if err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}

	cols, err := e.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, agent.ErrUnknownTable
	}

	for i := range cols {
		samples, err := e.columnSamples(ctx, quotedTable, cols[i].Name)
		if err != nil {
			return nil, err
		}
		cols[i].Samples = samples
	}

	var count int64
	row := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quotedTable))
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", table, err)
	}

	return &datatypes.SchemaDescriptor{
		Table:          table,
		Columns:        cols,
		RowCount:       count,
		IntrospectedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) tableColumns(ctx context.Context, table string) ([]datatypes.ColumnDescriptor, error) {
	// PRAGMA table_info does not accept placeholders; the name was
	// validated by the caller.
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []datatypes.ColumnDescriptor
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info: %w", err)
		}
		cols = append(cols, datatypes.ColumnDescriptor{Name: name, Type: colType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info: %w", err)
	}
	return cols, nil
}

func (e *Engine) columnSamples(ctx context.Context, quotedTable, column string) ([]string, error) {
	quotedCol, err := validation.QuoteIdentifier(column)
	if err != nil {
		return nil, fmt.Errorf("invalid column name: %w", err)
	}
	query := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d",
		quotedCol, quotedTable, quotedCol, sampleLimit)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", column, err)
	}
	defer rows.Close()

	var samples []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, renderValue(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}

// scanRows materializes a result set into a Table. Returns empty
// slices, never nil, so zero rows stays distinguishable from failure.
func scanRows(rows *sql.Rows) (*datatypes.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	table := &datatypes.Table{Columns: cols, Rows: [][]string{}}
	values := make([]any, len(cols))
	pointers := make([]any, len(cols))
	for i := range values {
		pointers[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		table.Rows = append(table.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return table, nil
}

// renderValue converts a driver value to its cell representation.
// NULL renders as the empty string.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
