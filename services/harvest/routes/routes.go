// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the HTTP surface onto a gin engine.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/codegen"
	"github.com/oscaromsn/harvest/services/harvest/handlers"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/telemetry"
	"github.com/oscaromsn/harvest/services/harvest/workflow"
)

// Deps bundles everything the surface serves from.
type Deps struct {
	Manager      *session.Manager
	Generator    *codegen.Generator
	Cache        *cache.Cache
	Client       llm.Client
	Orchestrator *workflow.Orchestrator
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
}

// SetupRoutes registers every route on the engine.
func SetupRoutes(router *gin.Engine, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.Metrics != nil {
		router.Use(d.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}
	router.GET("/health", handlers.HealthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", handlers.Analyze(d.Orchestrator, logger))
		v1.GET("/artifacts/list.json", handlers.ArtifactsList(d.Cache, logger))

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.StartSession(d.Manager, logger))
			sessions.GET("", handlers.ListSessions(d.Manager))
			sessions.GET("/:id", handlers.GetSession(d.Manager, logger))
			sessions.DELETE("/:id", handlers.DeleteSession(d.Manager, logger))
			sessions.POST("/:id/resolve", handlers.StepSession(d.Manager, logger))
			sessions.POST("/:id/codegen", handlers.GenerateCode(d.Manager, d.Generator, d.Cache, logger))

			sessions.GET("/:id/dag.json", handlers.DAGArtifact(d.Manager, logger))
			sessions.GET("/:id/log.txt", handlers.LogArtifact(d.Manager, logger))
			sessions.GET("/:id/status.json", handlers.StatusArtifact(d.Manager, logger))
			sessions.GET("/:id/generated_code", handlers.GeneratedCode(d.Manager, logger))

			sessions.POST("/:id/workflows/discover", handlers.DiscoverWorkflows(d.Manager, d.Client, logger))
			sessions.POST("/:id/workflows/:wid/activate", handlers.ActivateWorkflow(d.Manager, logger))
		}

		completed := v1.Group("/completed")
		{
			completed.GET("/:id/artifacts.json", handlers.CompletedManifest(d.Cache, d.Metrics, logger))
			completed.GET("/:id/har/original.har", handlers.CompletedArtifact(
				d.Cache, d.Metrics, logger, cache.ArtifactHAR, "application/json; charset=utf-8"))
			completed.GET("/:id/cookies/original.json", handlers.CompletedArtifact(
				d.Cache, d.Metrics, logger, cache.ArtifactCookies, "application/json; charset=utf-8"))
			completed.GET("/:id/generated.ts", handlers.CompletedArtifact(
				d.Cache, d.Metrics, logger, cache.ArtifactScript, "application/typescript; charset=utf-8"))
		}
	}
}
