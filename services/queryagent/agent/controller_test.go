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
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/guard"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// scriptedGenerate returns responses in order; the last response repeats
// once the script runs out.
func scriptedGenerate(responses ...string) GenerateFunc {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		r := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return r, nil
	}
}

type execResult struct {
	table *datatypes.Table
	err   error
}

// fakeExecutor pops scripted results in order; the last result repeats.
type fakeExecutor struct {
	mu       sync.Mutex
	results  []execResult
	i        int
	executed []string
	lookup   *datatypes.Table
}

func (f *fakeExecutor) Variant() string { return VariantSQL }

func (f *fakeExecutor) Execute(ctx context.Context, query string) (*datatypes.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, query)
	r := f.results[f.i]
	if f.i < len(f.results)-1 {
		f.i++
	}
	return r.table, r.err
}

func (f *fakeExecutor) RowLookup(ctx context.Context, table, idColumn string, ids []string) (*datatypes.Table, error) {
	if f.lookup == nil {
		return nil, errors.New("no lookup scripted")
	}
	return f.lookup, nil
}

func resultTable() *datatypes.Table {
	return &datatypes.Table{
		Columns: []string{"region", "total"},
		Rows:    [][]string{{"west", "10.5"}, {"east", "99.0"}},
	}
}

const relatedRewrite = `{"is_related": true, "reason": "direct", "rewritten": "Total sales by region", "core_columns_hint": ["region"]}`

func newTestController(t *testing.T, gen GenerateFunc, exec Executor) *Controller {
	t.Helper()
	g, err := guard.NewGuard()
	if err != nil {
		t.Fatalf("failed to build guard: %v", err)
	}
	cfg := DefaultConfig()
	return NewController(cfg,
		NewRewriter(gen, cfg),
		NewSynthesizer(gen, cfg, VariantSQL),
		g,
		exec,
		NewReconciler(cfg, exec),
		nil)
}

func TestController_HappyPath(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "SELECT region, total FROM sales", "reasoning": "straight projection", "columns": ["region", "total"]}`,
	)
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	c := newTestController(t, gen, exec)

	history := NewHistory()
	result, err := c.Run(context.Background(), RunInput{
		RequestID: "req-1",
		Question:  "sales by region?",
		Schema:    testSchema(),
		History:   history,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(result.ExecutedQuery, "LIMIT 500") {
		t.Errorf("guard should have injected a limit, executed %q", result.ExecutedQuery)
	}
	if result.RewrittenQuestion != "Total sales by region" {
		t.Errorf("RewrittenQuestion = %q", result.RewrittenQuestion)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Outcome != datatypes.AttemptOutcomeDone {
		t.Errorf("unexpected attempt trace: %+v", result.Attempts)
	}
	if history.Len() != 1 {
		t.Errorf("expected exactly one history turn, got %d", history.Len())
	}
	if !strings.Contains(result.AnswerMarkdown, "west") {
		t.Errorf("answer markdown missing data:\n%s", result.AnswerMarkdown)
	}
}

func TestController_Deterministic(t *testing.T) {
	run := func() *RunResult {
		gen := scriptedGenerate(
			relatedRewrite,
			`{"query": "SELECT region FROM sales", "reasoning": "r", "columns": ["region"]}`,
		)
		exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
		c := newTestController(t, gen, exec)
		result, err := c.Run(context.Background(), RunInput{
			RequestID: "req-d",
			Question:  "q",
			Schema:    testSchema(),
			History:   NewHistory(),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return result
	}

	a, b := run(), run()
	if a.ExecutedQuery != b.ExecutedQuery {
		t.Errorf("executed queries differ: %q vs %q", a.ExecutedQuery, b.ExecutedQuery)
	}
	if a.AnswerMarkdown != b.AnswerMarkdown {
		t.Errorf("markdown differs between identical runs")
	}
	if len(a.Attempts) != len(b.Attempts) {
		t.Errorf("attempt traces differ in length: %d vs %d", len(a.Attempts), len(b.Attempts))
	}
}

func TestController_GuardRejectThenRepair(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "DROP TABLE sales", "reasoning": "oops"}`,
		`{"query": "SELECT region FROM sales", "reasoning": "fixed", "columns": ["region"]}`,
	)
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	c := newTestController(t, gen, exec)

	result, err := c.Run(context.Background(), RunInput{
		RequestID: "req-2",
		Question:  "q",
		Schema:    testSchema(),
		History:   NewHistory(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d: %+v", len(result.Attempts), result.Attempts)
	}
	if result.Attempts[0].Outcome != datatypes.AttemptOutcomeGuardRejected {
		t.Errorf("first attempt outcome = %q", result.Attempts[0].Outcome)
	}
	if result.Attempts[1].Outcome != datatypes.AttemptOutcomeDone {
		t.Errorf("second attempt outcome = %q", result.Attempts[1].Outcome)
	}
	if result.Attempts[1].Stage != datatypes.StageRepair {
		t.Errorf("second attempt should be a repair pass, got %q", result.Attempts[1].Stage)
	}
	// The rejected statement must never reach the executor.
	for _, q := range exec.executed {
		if strings.Contains(q, "DROP") {
			t.Errorf("rejected query was executed: %q", q)
		}
	}
}

func TestController_EmptyResultThenBroaden(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "SELECT region FROM sales WHERE total > 1000", "reasoning": "strict"}`,
		`{"query": "SELECT region FROM sales", "reasoning": "broadened"}`,
	)
	empty := &datatypes.Table{Columns: []string{"region"}}
	exec := &fakeExecutor{results: []execResult{
		{table: empty},
		{table: resultTable()},
	}}
	c := newTestController(t, gen, exec)

	result, err := c.Run(context.Background(), RunInput{
		RequestID: "req-3",
		Question:  "q",
		Schema:    testSchema(),
		History:   NewHistory(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	if result.Attempts[0].Outcome != datatypes.AttemptOutcomeEmpty {
		t.Errorf("first attempt outcome = %q, want empty_result", result.Attempts[0].Outcome)
	}
}

func TestController_SyntaxErrorFeedback(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "SELECT regin FROM sales", "reasoning": "typo"}`,
		`{"query": "SELECT region FROM sales", "reasoning": "fixed"}`,
	)
	exec := &fakeExecutor{results: []execResult{
		{err: &ExecutionError{Class: ExecClassSyntax, Message: "no such column: regin"}},
		{table: resultTable()},
	}}
	c := newTestController(t, gen, exec)

	result, err := c.Run(context.Background(), RunInput{
		RequestID: "req-4",
		Question:  "q",
		Schema:    testSchema(),
		History:   NewHistory(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Attempts[0].Outcome != datatypes.AttemptOutcomeSyntaxError {
		t.Errorf("first attempt outcome = %q", result.Attempts[0].Outcome)
	}
	if !strings.Contains(result.Attempts[0].Detail, "regin") {
		t.Errorf("attempt detail should carry the engine message, got %q", result.Attempts[0].Detail)
	}
}

func TestController_Exhaustion(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "SELECT region FROM sales WHERE 1 = 0", "reasoning": "r"}`,
	)
	empty := &datatypes.Table{Columns: []string{"region"}}
	exec := &fakeExecutor{results: []execResult{{table: empty}}}
	c := newTestController(t, gen, exec)

	history := NewHistory()
	_, err := c.Run(context.Background(), RunInput{
		RequestID: "req-5",
		Question:  "q",
		Schema:    testSchema(),
		History:   history,
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *RetryExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != DefaultConfig().MaxRetries+1 {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, DefaultConfig().MaxRetries+1)
	}
	if len(exhausted.Trace) != exhausted.Attempts {
		t.Errorf("trace has %d records for %d attempts", len(exhausted.Trace), exhausted.Attempts)
	}
	if history.Len() != 0 {
		t.Errorf("failed run must not append a history turn, got %d", history.Len())
	}
}

func TestController_UnrelatedShortCircuits(t *testing.T) {
	gen := scriptedGenerate(`{"is_related": false, "reason": "asks about the weather", "rewritten": ""}`)
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	c := newTestController(t, gen, exec)

	_, err := c.Run(context.Background(), RunInput{
		RequestID: "req-6",
		Question:  "will it rain tomorrow?",
		Schema:    testSchema(),
		History:   NewHistory(),
	})

	var unrelated *UnrelatedError
	if !errors.As(err, &unrelated) {
		t.Fatalf("expected *UnrelatedError, got %T: %v", err, err)
	}
	if len(exec.executed) != 0 {
		t.Errorf("nothing should execute for an unrelated question, got %v", exec.executed)
	}
}

func TestController_FatalExecutionError(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "SELECT region FROM sales", "reasoning": "r"}`,
	)
	boom := errors.New("database handle closed")
	exec := &fakeExecutor{results: []execResult{{err: boom}}}
	c := newTestController(t, gen, exec)

	_, err := c.Run(context.Background(), RunInput{
		RequestID: "req-7",
		Question:  "q",
		Schema:    testSchema(),
		History:   NewHistory(),
	})
	if !errors.Is(err, boom) {
		t.Errorf("unclassified executor errors must abort the loop, got %v", err)
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("fatal errors must not be reported as exhaustion")
	}
}

func TestController_ContextCancellation(t *testing.T) {
	gen := scriptedGenerate(relatedRewrite, `{"query": "SELECT 1"}`)
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	c := newTestController(t, gen, exec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx, RunInput{
		RequestID: "req-8",
		Question:  "q",
		Schema:    testSchema(),
		History:   NewHistory(),
	})
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation, got %v", err)
	}
}

func TestController_ProgressStates(t *testing.T) {
	gen := scriptedGenerate(
		relatedRewrite,
		`{"query": "SELECT region FROM sales", "reasoning": "r"}`,
	)
	exec := &fakeExecutor{results: []execResult{{table: resultTable()}}}
	c := newTestController(t, gen, exec)

	var states []string
	_, err := c.Run(context.Background(), RunInput{
		RequestID: "req-9",
		Question:  "q",
		Schema:    testSchema(),
		History:   NewHistory(),
		Progress: func(state string, attempt int, detail string) {
			states = append(states, state)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{StateRewriting, StateSynthesizing, StateGuarding, StateExecuting, StateReconciling, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state[%d] = %q, want %q", i, states[i], want[i])
		}
	}
}
