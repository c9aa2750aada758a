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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianQuery/services/guard"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// Sentinel errors for session lookup failures.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownTable    = errors.New("unknown table")
)

// SynthesisError reports that a model stage produced unusable output:
// an empty response, unparseable JSON, or JSON missing required fields.
// Synthesis failures are retryable within the attempt bound.
type SynthesisError struct {
	Stage  string // "rewrite", "synthesis", "repair"
	Reason string
	Raw    string // raw model output, for logs only
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s stage produced unusable output: %s", e.Stage, e.Reason)
}

// GuardRejectionError wraps a rejecting verdict. The violations are the
// repair feedback for the next synthesis pass.
type GuardRejectionError struct {
	Verdict guard.Verdict
}

func (e *GuardRejectionError) Error() string {
	if len(e.Verdict.Violations) == 0 {
		return "query rejected by guard"
	}
	v := e.Verdict.Violations[0]
	return fmt.Sprintf("query rejected by guard: [%s] %s", v.RuleID, v.Message)
}

// Execution error classes. Syntax errors feed a stricter repair prompt;
// transient errors retry the same pipeline without blaming the query.
const (
	ExecClassTransient = "transient"
	ExecClassSyntax    = "syntax"
)

// ExecutionError is returned by executor adapters for failed runs. The
// adapter owns the classification; the retry controller only reads it.
type ExecutionError struct {
	Class   string
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s): %s", e.Class, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient execution error.
func IsTransient(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Class == ExecClassTransient
}

// RetryExhaustedError is the terminal failure of the synthesis loop. It
// carries the full attempt trace so callers can surface a structured
// diagnostic instead of a bare "failed".
type RetryExhaustedError struct {
	Attempts  int
	LastQuery string
	LastRule  string // guard rule ID when the final attempt died in the guard
	LastError error
	Trace     []datatypes.AttemptRecord
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastError
}
