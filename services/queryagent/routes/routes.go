// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianQuery/services/queryagent/handlers"
)

// SetupRoutes registers the query agent API on the router.
func SetupRoutes(router *gin.Engine, svc handlers.QueryService) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/query", handlers.HandleQuery(svc))
		v1.GET("/query/ws", handlers.HandleQueryWebSocket(svc))

		v1.GET("/schema", handlers.HandleListTables(svc))
		v1.GET("/schema/:table", handlers.HandleDescribeTable(svc))

		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(svc))
			sessions.GET("/:sessionKey/history", handlers.GetSessionHistory(svc))
			sessions.DELETE("/:sessionKey", handlers.DeleteSession(svc))
		}
	}
}
