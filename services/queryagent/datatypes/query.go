// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the query endpoints.
package datatypes

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxQuestionBytes is the maximum size of a single question.
	// Byte length, not rune count, to bound memory on hostile payloads.
	MaxQuestionBytes = 16 * 1024 // 16KB

	// MaxSessionKeyLength bounds the caller-supplied session key.
	MaxSessionKeyLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// queryValidate is the validator instance for query datatypes.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()
	_ = queryValidate.RegisterValidation("maxbytes", validateQuestionBytes)
}

func validateQuestionBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// =============================================================================
// Request / Response Types
// =============================================================================

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	RequestID string `json:"request_id,omitempty"`

	// Question is the free-text question to answer.
	Question string `json:"question" validate:"required,maxbytes"`

	// SessionKey scopes history and schema cache. Keys the server has
	// not seen before start a fresh session.
	SessionKey string `json:"session_key" validate:"required,max=128"`

	// Table optionally pins the question to one source table. When
	// empty the session's default table is used.
	Table string `json:"table,omitempty" validate:"omitempty,max=256"`
}

// Validate checks structural constraints and fills in a request ID when
// the caller did not supply one.
func (r *QueryRequest) Validate() error {
	if err := queryValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid query request: %w", err)
	}
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	return nil
}

// QueryResponse is the body of a successful POST /v1/query.
type QueryResponse struct {
	RequestID         string          `json:"request_id"`
	SessionKey        string          `json:"session_key"`
	AnswerMarkdown    string          `json:"answer_markdown"`
	Table             *Table          `json:"table,omitempty"`
	ExecutedQuery     string          `json:"executed_query"`
	RewrittenQuestion string          `json:"rewritten_question,omitempty"`
	Rationale         string          `json:"rationale,omitempty"`
	Attempts          []AttemptRecord `json:"attempts"`
	CompletedAt       time.Time       `json:"completed_at"`
}

// StructuredFailure is the error body returned when the pipeline gives
// up. It carries enough diagnostic context for a caller (or an operator
// reading logs) to understand what was tried.
type StructuredFailure struct {
	RequestID  string          `json:"request_id,omitempty"`
	Kind       string          `json:"kind"`
	Message    string          `json:"message"`
	LastQuery  string          `json:"last_query,omitempty"`
	LastRuleID string          `json:"last_rule_id,omitempty"`
	Attempts   []AttemptRecord `json:"attempts,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// SessionInfo summarizes one live session for GET /v1/sessions.
type SessionInfo struct {
	SessionKey   string    `json:"session_key"`
	Table        string    `json:"table,omitempty"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// ProgressEvent is one frame of the websocket progress stream.
type ProgressEvent struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Attempt   int    `json:"attempt,omitempty"`
	Detail    string `json:"detail,omitempty"`
}
