// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/workflow"
)

// Analyze runs the one-shot pipeline: create, identify, resolve, emit.
func Analyze(o *workflow.Orchestrator, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBindingError(c, err)
			return
		}

		result, err := o.Run(c.Request.Context(), workflow.RunRequest{
			TracePath:      req.HARPath,
			CookiePath:     req.CookiePath,
			Prompt:         req.Prompt,
			InputVariables: req.InputVariables,
			MaxIterations:  req.MaxIterations,
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}

		resp := datatypes.AnalyzeResponse{
			SessionID:  result.SessionID,
			Completed:  result.Complete,
			Script:     result.Script,
			Iterations: result.Iterations,
		}
		if !result.Complete {
			diag := datatypes.NewError(datatypes.CodeAnalysisIncomplete,
				"analysis stopped before a script could be emitted").
				WithSession(result.SessionID).
				WithBlockers(result.Diagnosis.Blockers, result.Diagnosis.Recommendations)
			diag.Details = map[string]any{"diagnostics": result.Diagnosis.Diagnostics}
			resp.Diagnosis = diag
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
