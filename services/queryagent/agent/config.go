// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent implements the guarded query synthesis pipeline: history
// management, question rewriting, query synthesis, the bounded retry
// loop, and result reconciliation.
package agent

import (
	"os"
	"strconv"
)

// Config holds the tunables of the synthesis pipeline.
//
// # Description
//
// Defaults come from DefaultConfig() and can be overridden via
// environment variables. All values are read once at startup; the
// pipeline itself never consults the environment.
type Config struct {
	// MaxRetries is the number of repair attempts after the first
	// synthesis pass. 2 means up to 3 total passes.
	// Default: 2 (QUERY_MAX_RETRIES)
	MaxRetries int

	// HistoryBudgetTokens caps the rendered history context.
	// Default: 3000 (HISTORY_TOKEN_BUDGET)
	HistoryBudgetTokens int

	// ExpansionThreshold is the maximum row count for which the
	// reconciler expands identifier-bearing results to full rows.
	// Default: 10 (RESULT_EXPANSION_THRESHOLD)
	ExpansionThreshold int

	// RowIDColumn is the hidden identifier column the reconciler keys on.
	// Default: "__row_idx" (RESULT_ROW_ID_COLUMN)
	RowIDColumn string

	// RewriteMaxTokens bounds the rewrite stage response.
	// Default: 300 (REWRITE_MAX_TOKENS)
	RewriteMaxTokens int

	// SynthesisMaxTokens bounds the synthesis stage response.
	// Default: 800 (SYNTHESIS_MAX_TOKENS)
	SynthesisMaxTokens int

	// FewShotLimit is how many stored examples are folded into the
	// synthesis prompt when a shot store is configured.
	// Default: 3 (FEW_SHOT_LIMIT)
	FewShotLimit int

	// ResultPreviewRows caps the rows of the markdown preview stored in
	// history turns.
	// Default: 5 (HISTORY_PREVIEW_ROWS)
	ResultPreviewRows int

	// AuditEnabled turns on the JSONL audit log of executed queries.
	// Default: false (QUERY_AUDIT_ENABLED)
	AuditEnabled bool

	// AuditPath is the audit log file location.
	// Default: "query_audit.jsonl" (QUERY_AUDIT_PATH)
	AuditPath string
}

// DefaultConfig returns the pipeline configuration with env overrides
// applied.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          getEnvInt("QUERY_MAX_RETRIES", 2),
		HistoryBudgetTokens: getEnvInt("HISTORY_TOKEN_BUDGET", 3000),
		ExpansionThreshold:  getEnvInt("RESULT_EXPANSION_THRESHOLD", 10),
		RowIDColumn:         getEnvString("RESULT_ROW_ID_COLUMN", "__row_idx"),
		RewriteMaxTokens:    getEnvInt("REWRITE_MAX_TOKENS", 300),
		SynthesisMaxTokens:  getEnvInt("SYNTHESIS_MAX_TOKENS", 800),
		FewShotLimit:        getEnvInt("FEW_SHOT_LIMIT", 3),
		ResultPreviewRows:   getEnvInt("HISTORY_PREVIEW_ROWS", 5),
		AuditEnabled:        getEnvBool("QUERY_AUDIT_ENABLED", false),
		AuditPath:           getEnvString("QUERY_AUDIT_PATH", "query_audit.jsonl"),
	}
}

// getEnvString returns an environment variable, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not set/invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}
