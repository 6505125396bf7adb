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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianComply/services/compliance/backend"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BackendStatus reports which retrieval backend is currently selected,
// so operators can see a failover without digging through traces.
func BackendStatus(selector *backend.Selector) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{"primary": selector.Primary()}
		current, err := selector.Current(c.Request.Context())
		if err != nil {
			response["active"] = nil
			response["error"] = err.Error()
		} else {
			response["active"] = current.Name()
		}
		c.JSON(http.StatusOK, response)
	}
}
