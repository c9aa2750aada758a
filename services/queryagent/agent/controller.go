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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/guard"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.query.agent")

// Pipeline states reported through the progress callback.
const (
	StateRewriting    = "rewriting"
	StateSynthesizing = "synthesizing"
	StateGuarding     = "guarding"
	StateExecuting    = "executing"
	StateRepairing    = "repairing"
	StateReconciling  = "reconciling"
	StateDone         = "done"
	StateFailed       = "failed"
)

// ProgressFunc receives state transitions for streaming surfaces. It is
// called synchronously; implementations must not block.
type ProgressFunc func(state string, attempt int, detail string)

// UnrelatedError short-circuits the pipeline when the rewrite stage
// decides the question cannot be answered from the table.
type UnrelatedError struct {
	Reason string
}

func (e *UnrelatedError) Error() string {
	return fmt.Sprintf("question is unrelated to the table: %s", e.Reason)
}

// Controller drives one question through rewrite, synthesis, guard,
// execution and reconciliation, with a bounded repair loop.
//
// # Description
//
// The loop is deterministic given deterministic collaborators: no
// sleeps, no randomness, no wall-clock decisions. Each failed attempt
// converts its failure into textual feedback for the next synthesis
// pass. The bound counts synthesis passes; when it is exhausted the
// controller returns *RetryExhaustedError carrying the full attempt
// trace. Exactly one history turn is appended on success and none on
// failure.
//
// # Thread Safety
//
// Safe for concurrent use; per-run state lives on the stack.
type Controller struct {
	config     Config
	rewriter   *Rewriter
	synth      *Synthesizer
	guard      *guard.Guard
	executor   Executor
	reconciler *Reconciler
	shots      ShotSource // may be nil
}

// NewController wires the pipeline. shots may be nil to disable few-shot
// retrieval.
func NewController(config Config, rewriter *Rewriter, synth *Synthesizer, g *guard.Guard, executor Executor, reconciler *Reconciler, shots ShotSource) *Controller {
	return &Controller{
		config:     config,
		rewriter:   rewriter,
		synth:      synth,
		guard:      g,
		executor:   executor,
		reconciler: reconciler,
		shots:      shots,
	}
}

// RunInput is one question in the context of one session.
type RunInput struct {
	RequestID string
	Question  string
	Schema    *datatypes.SchemaDescriptor
	History   *History
	Progress  ProgressFunc // optional
}

// RunResult is the successful outcome of a pipeline run.
type RunResult struct {
	Turn              datatypes.Turn
	Table             *datatypes.Table
	AnswerMarkdown    string
	ExecutedQuery     string
	RewrittenQuestion string
	Rationale         string
	Attempts          []datatypes.AttemptRecord
}

// Run executes the pipeline for one question.
func (c *Controller) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	ctx, span := tracer.Start(ctx, "Controller.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("query.request_id", in.RequestID),
		attribute.String("query.variant", c.synth.variant),
	)

	progress := in.Progress
	if progress == nil {
		progress = func(string, int, string) {}
	}

	historyContext := in.History.ContextBlock(c.config.HistoryBudgetTokens)

	var trace []datatypes.AttemptRecord
	var rewrite *RewriteResult
	var shots []Shot
	var lastCandidate *datatypes.QueryCandidate
	var lastErr error
	var lastRule string
	feedback := ""
	previousQuery := ""

	maxAttempts := c.config.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("pipeline canceled: %w", err)
		}

		record := datatypes.AttemptRecord{
			Number:    attempt,
			Stage:     datatypes.StageSynthesis,
			StartedAt: time.Now().UTC(),
		}
		if feedback != "" {
			record.Stage = datatypes.StageRepair
			progress(StateRepairing, attempt, feedback)
		}

		// The rewrite stage runs until it succeeds once; its failures
		// consume attempts like any other synthesis failure.
		if rewrite == nil {
			progress(StateRewriting, attempt, "")
			rw, err := c.rewriter.Rewrite(ctx, in.Question, in.Schema, historyContext)
			if err != nil {
				var synthErr *SynthesisError
				if !errors.As(err, &synthErr) {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return nil, err
				}
				slog.Warn("rewrite stage failed", "attempt", attempt, "error", err)
				record.Outcome = datatypes.AttemptOutcomeSynthFailed
				record.Detail = err.Error()
				trace = append(trace, record)
				lastErr = err
				continue
			}
			if !rw.IsRelated {
				progress(StateFailed, attempt, rw.Reason)
				return nil, &UnrelatedError{Reason: rw.Reason}
			}
			rewrite = rw

			// Few-shot retrieval is best-effort and happens once.
			if c.shots != nil {
				fetched, err := c.shots.Similar(ctx, rewrite.Rewritten, c.config.FewShotLimit)
				if err != nil {
					slog.Warn("few-shot retrieval failed, continuing without examples", "error", err)
				} else {
					shots = fetched
				}
			}
		}

		progress(StateSynthesizing, attempt, "")
		candidate, err := c.synth.Synthesize(ctx, SynthesisInput{
			Question:       rewrite.Rewritten,
			Schema:         in.Schema,
			HistoryContext: historyContext,
			Shots:          shots,
			Feedback:       feedback,
			PreviousQuery:  previousQuery,
		})
		if err != nil {
			var synthErr *SynthesisError
			if !errors.As(err, &synthErr) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			slog.Warn("synthesis stage failed", "attempt", attempt, "error", err)
			record.Outcome = datatypes.AttemptOutcomeSynthFailed
			record.Detail = err.Error()
			trace = append(trace, record)
			lastErr = err
			feedback = "your previous response was not a valid JSON object with a query; answer with the JSON object only"
			continue
		}
		lastCandidate = candidate
		record.QueryText = candidate.Text
		previousQuery = candidate.Text

		progress(StateGuarding, attempt, "")
		verdict := c.checkCandidate(ctx, candidate.Text)
		if !verdict.Accepted {
			rejection := &GuardRejectionError{Verdict: verdict}
			slog.Info("guard rejected candidate", "attempt", attempt, "violations", verdict.Violations)
			record.Outcome = datatypes.AttemptOutcomeGuardRejected
			record.Detail = rejection.Error()
			trace = append(trace, record)
			lastErr = rejection
			if len(verdict.Violations) > 0 {
				lastRule = verdict.Violations[0].RuleID
			}
			feedback = formatGuardFeedback(verdict)
			continue
		}

		progress(StateExecuting, attempt, "")
		table, err := c.executor.Execute(ctx, verdict.NormalizedText)
		if err != nil {
			var execErr *ExecutionError
			if !errors.As(err, &execErr) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			lastErr = execErr
			trace = append(trace, recordExecFailure(record, execErr))
			if execErr.Class == ExecClassSyntax {
				feedback = fmt.Sprintf("the query failed with a syntax error: %s. Check identifier spelling against the schema and produce syntactically valid output", execErr.Message)
			} else {
				feedback = fmt.Sprintf("the query failed transiently: %s", execErr.Message)
			}
			continue
		}

		if table.IsEmpty() {
			slog.Info("query returned no rows", "attempt", attempt)
			record.Outcome = datatypes.AttemptOutcomeEmpty
			trace = append(trace, record)
			lastErr = fmt.Errorf("query returned no rows")
			feedback = "the query executed but returned no rows; the filter is likely too strict, broaden it"
			continue
		}

		progress(StateReconciling, attempt, "")
		finalTable, markdown := c.reconciler.Reconcile(ctx, table, in.Schema.Table)

		record.Outcome = datatypes.AttemptOutcomeDone
		trace = append(trace, record)

		turn := datatypes.Turn{
			ID:                uuid.NewString(),
			Question:          in.Question,
			RewrittenQuestion: rewrite.Rewritten,
			Query:             verdict.NormalizedText,
			Rationale:         candidate.Rationale,
			UsedColumns:       candidate.DeclaredColumns,
			ResultPreview:     previewMarkdown(finalTable, c.config.ResultPreviewRows),
			CreatedAt:         time.Now().UTC(),
		}
		in.History.Append(turn)

		progress(StateDone, attempt, "")
		span.SetAttributes(attribute.Int("query.attempts", attempt))
		return &RunResult{
			Turn:              turn,
			Table:             finalTable,
			AnswerMarkdown:    markdown,
			ExecutedQuery:     verdict.NormalizedText,
			RewrittenQuestion: rewrite.Rewritten,
			Rationale:         candidate.Rationale,
			Attempts:          trace,
		}, nil
	}

	progress(StateFailed, maxAttempts, "")
	exhausted := &RetryExhaustedError{
		Attempts:  maxAttempts,
		LastError: lastErr,
		LastRule:  lastRule,
		Trace:     trace,
	}
	if lastCandidate != nil {
		exhausted.LastQuery = lastCandidate.Text
	}
	span.SetStatus(codes.Error, exhausted.Error())
	return nil, exhausted
}

func (c *Controller) checkCandidate(ctx context.Context, text string) guard.Verdict {
	if c.synth.variant == VariantDataframe {
		return c.guard.CheckSnippet(ctx, text)
	}
	return c.guard.CheckSQL(text)
}

func recordExecFailure(record datatypes.AttemptRecord, execErr *ExecutionError) datatypes.AttemptRecord {
	if execErr.Class == ExecClassSyntax {
		record.Outcome = datatypes.AttemptOutcomeSyntaxError
	} else {
		record.Outcome = datatypes.AttemptOutcomeTransient
	}
	record.Detail = execErr.Message
	return record
}

func formatGuardFeedback(verdict guard.Verdict) string {
	msgs := make([]string, 0, len(verdict.Violations))
	for _, v := range verdict.Violations {
		msgs = append(msgs, fmt.Sprintf("[%s] %s", v.RuleID, v.Message))
	}
	return "the query violated policy: " + strings.Join(msgs, "; ")
}

// previewMarkdown renders at most maxRows rows for history storage.
func previewMarkdown(t *datatypes.Table, maxRows int) string {
	if t.RowCount() <= maxRows {
		return t.Markdown()
	}
	preview := &datatypes.Table{Columns: t.Columns, Rows: t.Rows[:maxRows]}
	return preview.Markdown() + fmt.Sprintf("\n(%d more rows)", t.RowCount()-maxRows)
}
