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
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsResult is the final frame of a websocket query: either the response
// or a structured failure.
type wsResult struct {
	Type     string                       `json:"type"`
	Response *datatypes.QueryResponse     `json:"response,omitempty"`
	Failure  *datatypes.StructuredFailure `json:"failure,omitempty"`
}

// HandleQueryWebSocket answers GET /v1/query/ws.
//
// # Protocol
//
// The client sends one QueryRequest JSON frame per question. The server
// streams ProgressEvent frames ("type":"progress") as the pipeline
// advances, then one final frame ("type":"result" or "type":"failure").
// The connection stays open for follow-up questions in the same session.
func HandleQueryWebSocket(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		observability.DefaultMetrics.StreamOpened()
		defer observability.DefaultMetrics.StreamClosed()

		// Progress callbacks and final frames share the connection.
		var writeMu sync.Mutex
		writeJSON := func(v any) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := ws.WriteJSON(v); err != nil {
				slog.Warn("Failed to write WebSocket JSON", "error", err)
				return err
			}
			return nil
		}

		for {
			var req datatypes.QueryRequest
			if err := ws.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("websocket closed unexpectedly", "error", err)
				}
				return
			}
			if err := req.Validate(); err != nil {
				writeJSON(gin.H{"type": "failure", "error": err.Error()})
				continue
			}

			progress := func(state string, attempt int, detail string) {
				writeJSON(gin.H{
					"type": "progress",
					"event": datatypes.ProgressEvent{
						RequestID: req.RequestID,
						State:     state,
						Attempt:   attempt,
						Detail:    detail,
					},
				})
			}

			result, err := svc.Answer(c.Request.Context(), req, progress)
			if err != nil {
				writeJSON(wsResult{Type: "failure", Failure: structuredFailureFor(req, err)})
				continue
			}

			writeJSON(wsResult{
				Type: "result",
				Response: &datatypes.QueryResponse{
					RequestID:         req.RequestID,
					SessionKey:        req.SessionKey,
					AnswerMarkdown:    result.AnswerMarkdown,
					Table:             result.Table,
					ExecutedQuery:     result.ExecutedQuery,
					RewrittenQuestion: result.RewrittenQuestion,
					Rationale:         result.Rationale,
					Attempts:          result.Attempts,
					CompletedAt:       time.Now().UTC(),
				},
			})
		}
	}
}
