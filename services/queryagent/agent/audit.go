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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// auditLogFileMode restricts the audit file to owner read/write. The
// log contains user questions and the queries run on their behalf.
const auditLogFileMode = 0600

// AuditRecord is one line of the query audit log. Only successful
// executions are recorded; failures surface as structured errors on
// the API instead.
type AuditRecord struct {
	Sequence        int64     `json:"sequence"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id"`
	SessionKey      string    `json:"session_key"`
	Table           string    `json:"table,omitempty"`
	Question        string    `json:"question"`
	ExecutedQuery   string    `json:"executed_query"`
	AttemptsElapsed int       `json:"attempts_elapsed"`
	RowCount        int       `json:"row_count"`
}

// AuditLog appends query records as JSON Lines to a dedicated file and
// mirrors a summary to slog. Rotation is handled externally.
//
// # Thread Safety
//
// All methods are thread-safe. Writes are serialized via mutex.
type AuditLog struct {
	file     *os.File
	path     string
	mu       sync.Mutex
	sequence int64
}

// NewAuditLog opens (or creates) the audit file in append mode.
func NewAuditLog(path string) (*AuditLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &AuditLog{file: file, path: path}, nil
}

// Record appends one record. Errors are returned but callers normally
// log and continue; auditing never blocks a query response.
func (a *AuditLog) Record(record AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sequence++
	record.Sequence = a.sequence
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}

	slog.Info("Query audited",
		"request_id", record.RequestID,
		"session", record.SessionKey,
		"rows", record.RowCount,
		"attempts", record.AttemptsElapsed)
	return nil
}

// Close flushes and closes the audit file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Path returns the audit file path.
func (a *AuditLog) Path() string {
	return a.path
}
