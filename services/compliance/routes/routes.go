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

	"github.com/AleutianAI/AleutianComply/services/compliance/backend"
	"github.com/AleutianAI/AleutianComply/services/compliance/engine"
	"github.com/AleutianAI/AleutianComply/services/compliance/handlers"
)

// SetupRoutes registers every endpoint on the router with its injected
// dependencies.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, selector *backend.Selector) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/ask", handlers.HandleAsk(eng))
		v1.GET("/backends", handlers.BackendStatus(selector))
	}
}
