// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dfengine executes guard-approved pandas snippets via the
// Python runner sidecar.
package dfengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// DefaultRunnerTimeout is the default timeout for snippet execution.
// The runner enforces its own CPU and memory caps; this bounds the
// round trip.
const DefaultRunnerTimeout = 60 * time.Second

// Engine wraps calls to the snippet runner service.
//
// # Description
//
// The runner is a Python sidecar that loads the active table into a
// pandas dataframe (with the hidden row identifier column attached) and
// evaluates one vetted expression against it under a row cap. The
// contract mirrors the SQL engine: empty results come back as zero rows,
// snippet mistakes come back as 4xx with a message, and infrastructure
// failures come back as 5xx.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	baseURL    string
	httpClient *http.Client
	rowCap     int
}

// NewEngine creates a client for the runner at baseURL
// (e.g. "http://localhost:8100"). rowCap bounds result sizes and is
// passed on every execution.
func NewEngine(baseURL string, rowCap int) *Engine {
	return &Engine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultRunnerTimeout,
		},
		rowCap: rowCap,
	}
}

// WithTimeout sets a custom timeout for runner requests.
func (e *Engine) WithTimeout(timeout time.Duration) *Engine {
	e.httpClient.Timeout = timeout
	return e
}

// Variant reports the query dialect.
func (e *Engine) Variant() string {
	return agent.VariantDataframe
}

// executeRequest is the request body for the /v1/execute endpoint.
type executeRequest struct {
	Code   string `json:"code"`
	RowCap int    `json:"row_cap"`
}

// lookupRequest is the request body for the /v1/lookup endpoint.
type lookupRequest struct {
	Table    string   `json:"table"`
	IDColumn string   `json:"id_column"`
	IDs      []string `json:"ids"`
}

// tableResponse is the runner's result shape for both endpoints.
type tableResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// errorResponse is the runner's failure shape.
type errorResponse struct {
	Error string `json:"error"`
}

// Execute runs one snippet and materializes the result.
func (e *Engine) Execute(ctx context.Context, code string) (*datatypes.Table, error) {
	return e.postForTable(ctx, "/v1/execute", executeRequest{Code: code, RowCap: e.rowCap})
}

// RowLookup fetches full source rows by identifier values.
func (e *Engine) RowLookup(ctx context.Context, table, idColumn string, ids []string) (*datatypes.Table, error) {
	if len(ids) == 0 {
		return &datatypes.Table{}, nil
	}
	return e.postForTable(ctx, "/v1/lookup", lookupRequest{Table: table, IDColumn: idColumn, IDs: ids})
}

// ListTables returns the tables the runner has loaded.
func (e *Engine) ListTables(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/tables", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner returned status %d listing tables", resp.StatusCode)
	}

	var parsed struct {
		Tables []string `json:"tables"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode table list: %w", err)
	}
	return parsed.Tables, nil
}

// Describe introspects one loaded table via the runner.
func (e *Engine) Describe(ctx context.Context, table string) (*datatypes.SchemaDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/v1/tables/"+table, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("describe table: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, agent.ErrUnknownTable
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runner returned status %d describing %s", resp.StatusCode, table)
	}

	var schema datatypes.SchemaDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&schema); err != nil {
		return nil, fmt.Errorf("decode schema descriptor: %w", err)
	}
	if schema.IntrospectedAt.IsZero() {
		schema.IntrospectedAt = time.Now().UTC()
	}
	return &schema, nil
}

// Health checks the runner's /health endpoint.
func (e *Engine) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("runner unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runner unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) postForTable(ctx context.Context, path string, body any) (*datatypes.Table, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, resp.Body)
	}

	var parsed tableResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode runner response: %w", err)
	}
	table := &datatypes.Table{Columns: parsed.Columns, Rows: parsed.Rows}
	if table.Rows == nil {
		table.Rows = [][]string{}
	}
	return table, nil
}

// classifyTransportError maps network-level failures. Cancellation
// passes through unclassified; everything else is transient, since the
// sidecar may simply be restarting.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &agent.ExecutionError{
		Class:   agent.ExecClassTransient,
		Message: err.Error(),
		Err:     err,
	}
}

// classifyStatus maps runner HTTP statuses onto failure classes: 4xx
// means the snippet itself is wrong and worth a repair pass, 5xx means
// the runner had trouble and a plain retry may succeed.
func classifyStatus(status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	message := string(raw)
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		message = parsed.Error
	}

	class := agent.ExecClassTransient
	if status >= 400 && status < 500 {
		class = agent.ExecClassSyntax
	}
	return &agent.ExecutionError{
		Class:   class,
		Message: fmt.Sprintf("runner returned status %d: %s", status, message),
	}
}
