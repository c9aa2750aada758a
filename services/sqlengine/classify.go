// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlengine

import (
	"context"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
)

// classifyError maps a SQLite failure onto the retry controller's
// failure classes.
//
// Syntax-class failures (malformed SQL, unknown identifiers, type
// misuse) are the model's fault and worth a repair pass with the engine
// message as feedback. Transient-class failures (lock contention, I/O)
// are the environment's fault; retrying the same query may succeed.
// Context cancellation passes through unclassified so the controller
// aborts instead of retrying.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrNomem, sqlite3.ErrInterrupt:
			return &agent.ExecutionError{
				Class:   agent.ExecClassTransient,
				Message: sqliteErr.Error(),
				Err:     err,
			}
		case sqlite3.ErrError, sqlite3.ErrRange, sqlite3.ErrMismatch:
			return &agent.ExecutionError{
				Class:   agent.ExecClassSyntax,
				Message: sqliteErr.Error(),
				Err:     err,
			}
		}
	}

	// The driver surfaces some failures as plain errors; fall back to
	// message matching.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "no such function"),
		strings.Contains(msg, "ambiguous column"):
		return &agent.ExecutionError{Class: agent.ExecClassSyntax, Message: err.Error(), Err: err}
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "disk i/o error"),
		strings.Contains(msg, "out of memory"):
		return &agent.ExecutionError{Class: agent.ExecClassTransient, Message: err.Error(), Err: err}
	}

	return err
}
