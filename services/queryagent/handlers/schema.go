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

// HandleListTables answers GET /v1/schema.
func HandleListTables(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, err := svc.ListTables(c.Request.Context())
		if err != nil {
			slog.Error("failed to list tables", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tables"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tables": tables})
	}
}

// HandleDescribeTable answers GET /v1/schema/:table.
func HandleDescribeTable(svc QueryService) gin.HandlerFunc {
	return func(c *gin.Context) {
		table := c.Param("table")
		schema, err := svc.Describe(c.Request.Context(), table)
		if err != nil {
			if errors.Is(err, agent.ErrUnknownTable) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
				return
			}
			slog.Error("failed to describe table", "table", table, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to describe table"})
			return
		}
		c.JSON(http.StatusOK, schema)
	}
}
