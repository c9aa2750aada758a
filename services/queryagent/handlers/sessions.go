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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
)

// ListSessions answers GET /v1/sessions.
func ListSessions(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": svc.Sessions()})
	}
}

// GetSessionHistory answers GET /v1/sessions/:sessionKey/history.
func GetSessionHistory(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("sessionKey")
		turns, err := svc.SessionHistory(key)
		if err != nil {
			if errors.Is(err, agent.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("failed to read session history", "session", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_key": key, "turns": turns})
	}
}

// DeleteSession answers DELETE /v1/sessions/:sessionKey.
func DeleteSession(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("sessionKey")
		if err := svc.DeleteSession(key); err != nil {
			if errors.Is(err, agent.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("failed to delete session", "session", key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}
		slog.Info("Deleted session", "session", key)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_key": key})
	}
}
