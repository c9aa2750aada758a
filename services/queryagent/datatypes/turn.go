// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Turn is one completed question/answer exchange. A turn is recorded
// only when the full pipeline succeeded; failed attempts never enter
// the history.
type Turn struct {
	ID                string    `json:"id"`
	Question          string    `json:"question"`
	RewrittenQuestion string    `json:"rewritten_question,omitempty"`
	Query             string    `json:"query"`
	Rationale         string    `json:"rationale,omitempty"`
	UsedColumns       []string  `json:"used_columns,omitempty"`
	ResultPreview     string    `json:"result_preview,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// QueryCandidate is a synthesized query before it has passed the guard.
type QueryCandidate struct {
	// Text is the raw query or snippet produced by the model.
	Text string `json:"text"`

	// DeclaredColumns are the columns the synthesizer claims to use,
	// carried into the history as used_columns on success.
	DeclaredColumns []string `json:"declared_columns,omitempty"`

	// Rationale is the model's stated reasoning, kept for audit only.
	Rationale string `json:"rationale,omitempty"`

	// SourceStage is "synthesis" for first attempts and "repair" for
	// candidates produced from failure feedback.
	SourceStage string `json:"source_stage"`
}

const (
	StageSynthesis = "synthesis"
	StageRepair    = "repair"
)

// AttemptRecord traces one pass through the synthesis loop. The slice of
// records on a response is the audit trail of how the answer (or the
// failure) came to be.
type AttemptRecord struct {
	Number    int       `json:"number"`
	Stage     string    `json:"stage"`
	QueryText string    `json:"query_text,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Attempt outcomes.
const (
	AttemptOutcomeDone          = "done"
	AttemptOutcomeGuardRejected = "guard_rejected"
	AttemptOutcomeEmpty         = "empty_result"
	AttemptOutcomeSyntaxError   = "syntax_error"
	AttemptOutcomeTransient     = "transient_error"
	AttemptOutcomeSynthFailed   = "synthesis_failed"
)
