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

	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/codegen"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/resolver"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/workflow"
)

// StartSession creates an analysis session from a referenced trace file.
func StartSession(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StartSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			writeBindingError(c, err)
			return
		}

		sess, err := m.CreateSession(c.Request.Context(), session.CreateOptions{
			TracePath:      req.HARPath,
			CookiePath:     req.CookiePath,
			Prompt:         req.Prompt,
			InputVariables: req.InputVariables,
			ParseOptions: harparser.ParseOptions{
				ExcludeKeywords:       req.ExcludeKeywords,
				IncludeAllAPIRequests: req.IncludeAllAPIRequests,
				PreserveAnalytics:     req.PreserveAnalytics,
			},
		})
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusCreated, datatypes.StartSessionResponse{
			SessionID: sess.ID,
			Grade:     string(sess.Trace.Validation.Grade),
			Warnings:  sess.Trace.Validation.Issues,
		})
	}
}

// ListSessions returns summaries of every live session.
func ListSessions(m *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": m.ListSessions()})
	}
}

// GetSession returns one session's summary and completion diagnostics.
func GetSession(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId":  sess.ID,
			"prompt":     sess.Prompt,
			"actionUrl":  sess.ActionURL,
			"isComplete": sess.IsComplete,
			"nodeCount":  sess.Graph.NodeCount(),
			"analysis":   session.Analyze(sess),
		})
	}
}

// DeleteSession removes a session and frees its slot.
func DeleteSession(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := m.DeleteSession(id); err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

// StepSession runs a bounded number of resolver iterations.
func StepSession(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StepRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeBindingError(c, err)
				return
			}
			if err := req.Validate(); err != nil {
				writeBindingError(c, err)
				return
			}
		}
		iterations := req.Iterations
		if iterations == 0 {
			iterations = 1
		}

		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		sess.Touch()

		var results []*resolver.StepResult
		for i := 0; i < iterations; i++ {
			res, err := sess.Resolver.Step(c.Request.Context())
			if err != nil {
				writeError(c, logger, err)
				return
			}
			results = append(results, res)
			if res.Outcome == resolver.OutcomeComplete || res.Outcome == resolver.OutcomeBlockedOnDependencies {
				break
			}
		}
		if err := m.SyncCompletionState(sess.ID); err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId":  sess.ID,
			"isComplete": sess.IsComplete,
			"steps":      results,
		})
	}
}

// GenerateCode emits the client script for a completed session and hands
// the session to the cache.
func GenerateCode(m *session.Manager, gen *codegen.Generator, store *cache.Cache, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		script, err := gen.Generate(sess)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		sess.GeneratedScript = script
		sess.AppendLog(session.LevelInfo, "client script generated", nil)
		workflow.CacheCompleted(store, sess, script, logger)

		c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "script": script})
	}
}
