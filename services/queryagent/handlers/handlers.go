// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers for the query agent API.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/agent"
	"github.com/AleutianAI/AleutianQuery/services/queryagent/datatypes"
)

// QueryService is the surface the handlers drive. It is implemented by
// the queryagent service assembly; tests supply fakes.
type QueryService interface {
	// Answer runs one question through the pipeline. progress may be nil.
	Answer(ctx context.Context, req datatypes.QueryRequest, progress agent.ProgressFunc) (*agent.RunResult, error)

	// Sessions lists live sessions.
	Sessions() []datatypes.SessionInfo

	// SessionHistory returns the recorded turns of one session.
	SessionHistory(key string) ([]datatypes.Turn, error)

	// DeleteSession drops a session and its history.
	DeleteSession(key string) error

	// ListTables lists the queryable tables.
	ListTables(ctx context.Context) ([]string, error)

	// Describe introspects one table.
	Describe(ctx context.Context, table string) (*datatypes.SchemaDescriptor, error)
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
