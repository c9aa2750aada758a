// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// HandleQuery answers POST /v1/query.
//
// # Status Mapping
//
//   - 400: malformed or oversized request
//   - 404: unknown table or session
//   - 422: the pipeline understood the request but could not produce an
//     answer (unrelated question or retries exhausted); the body is a
//     StructuredFailure with the attempt trace
//   - 500: infrastructure failure
func HandleQuery(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Received query", "request_id", req.RequestID, "session", req.SessionKey)

		result, err := svc.Answer(c.Request.Context(), req, nil)
		if err != nil {
			writeQueryError(c, req, err)
			return
		}

		c.JSON(http.StatusOK, datatypes.QueryResponse{
			RequestID:         req.RequestID,
			SessionKey:        req.SessionKey,
			AnswerMarkdown:    result.AnswerMarkdown,
			Table:             result.Table,
			ExecutedQuery:     result.ExecutedQuery,
			RewrittenQuestion: result.RewrittenQuestion,
			Rationale:         result.Rationale,
			Attempts:          result.Attempts,
			CompletedAt:       time.Now().UTC(),
		})
	}
}

// writeQueryError maps pipeline errors onto HTTP statuses.
func writeQueryError(c *gin.Context, req datatypes.QueryRequest, err error) {
	var unrelated *agent.UnrelatedError
	var exhausted *agent.RetryExhaustedError

	switch {
	case errors.Is(err, agent.ErrUnknownTable):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})

	case errors.Is(err, agent.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})

	case errors.As(err, &unrelated):
		c.JSON(http.StatusUnprocessableEntity, datatypes.StructuredFailure{
			RequestID:  req.RequestID,
			Kind:       "unrelated_question",
			Message:    unrelated.Reason,
			OccurredAt: time.Now().UTC(),
		})

	case errors.As(err, &exhausted):
		failure := datatypes.StructuredFailure{
			RequestID:  req.RequestID,
			Kind:       "retries_exhausted",
			Message:    exhausted.Error(),
			LastQuery:  exhausted.LastQuery,
			LastRuleID: exhausted.LastRule,
			Attempts:   exhausted.Trace,
			OccurredAt: time.Now().UTC(),
		}
		c.JSON(http.StatusUnprocessableEntity, failure)

	default:
		slog.Error("query pipeline failed", "request_id", req.RequestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// structuredFailureFor builds the failure body shared by the HTTP and
// websocket surfaces.
func structuredFailureFor(req datatypes.QueryRequest, err error) *datatypes.StructuredFailure {
	failure := &datatypes.StructuredFailure{
		RequestID:  req.RequestID,
		Kind:       "internal_error",
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}

	var unrelated *agent.UnrelatedError
	var exhausted *agent.RetryExhaustedError
	switch {
	case errors.As(err, &unrelated):
		failure.Kind = "unrelated_question"
		failure.Message = unrelated.Reason
	case errors.As(err, &exhausted):
		failure.Kind = "retries_exhausted"
		failure.LastQuery = exhausted.LastQuery
		failure.LastRuleID = exhausted.LastRule
		failure.Attempts = exhausted.Trace
	case errors.Is(err, agent.ErrUnknownTable):
		failure.Kind = "unknown_table"
	case errors.Is(err, agent.ErrSessionNotFound):
		failure.Kind = "session_not_found"
	}
	return failure
}
