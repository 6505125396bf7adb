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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianComply/services/compliance/datatypes"
	"github.com/AleutianAI/AleutianComply/services/compliance/engine"
)

// AskRequest is the inbound question payload.
type AskRequest struct {
	Query         string                           `json:"query" binding:"required"`
	TenantID      string                           `json:"tenant_id" binding:"required"`
	CollectionID  string                           `json:"collection_id"`
	CorrelationID string                           `json:"correlation_id"`
	Clarification *datatypes.ClarificationContext  `json:"clarification"`
}

// HandleAsk answers a compliance question through the engine. The engine
// always returns a structured result; the only error responses here are
// request binding failures.
func HandleAsk(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}

		requestID := uuid.NewString()
		slog.Info("handling compliance question",
			"request_id", requestID,
			"tenant_id", req.TenantID,
			"correlation_id", req.CorrelationID,
		)

		result := eng.Handle(c.Request.Context(), engine.Command{
			Query: datatypes.Query{
				Text:          req.Query,
				TenantID:      req.TenantID,
				CollectionID:  req.CollectionID,
				Clarification: req.Clarification,
			},
			RequestID:     requestID,
			CorrelationID: req.CorrelationID,
		})

		c.JSON(http.StatusOK, result)
	}
}
