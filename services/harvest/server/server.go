// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server assembles the service from its configuration. Both the
// service binary and the CLI's serve command build the same App.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oscaromsn/harvest/pkg/logging"
	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/codegen"
	"github.com/oscaromsn/harvest/services/harvest/config"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/routes"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/telemetry"
	"github.com/oscaromsn/harvest/services/harvest/workflow"
)

// App is the assembled service.
type App struct {
	Config  config.Config
	Router  *gin.Engine
	Manager *session.Manager
	Store   *cache.Cache
	Logger  *logging.Logger
}

// Build wires every component from the configuration.
func Build(cfg config.Config) (*App, error) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "harvest",
	})
	slogger := logger.Slog()

	var client llm.Client
	openaiClient, err := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	switch {
	case err == nil:
		client = openaiClient
	case errors.Is(err, llm.ErrNoProvider):
		logger.Info("no llm provider configured, running with heuristics only")
	default:
		logger.Warn("llm provider unavailable, running with heuristics only", "error", err)
	}

	manager := session.NewManager(session.Config{
		MaxSessions:  cfg.Sessions.Max,
		IdleTimeout:  cfg.Sessions.IdleTimeout.Std(),
		ReapInterval: cfg.Sessions.ReapInterval.Std(),
	}, client, slogger)

	store, err := cache.New(cache.Options{
		Root:   cfg.Cache.Root,
		Logger: slogger,
		Watch:  true,
	})
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("open artifact cache: %w", err)
	}

	metrics := telemetry.NewMetrics()
	generator := codegen.New(slogger)
	orchestrator := workflow.New(workflow.Options{
		Manager:       manager,
		Generator:     generator,
		Cache:         store,
		Client:        client,
		Metrics:       metrics,
		Logger:        slogger,
		MaxIterations: cfg.Resolver.MaxIterations,
	})

	router := gin.New()
	router.Use(gin.Recovery())
	routes.SetupRoutes(router, routes.Deps{
		Manager:      manager,
		Generator:    generator,
		Cache:        store,
		Client:       client,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Logger:       slogger,
	})

	return &App{
		Config:  cfg,
		Router:  router,
		Manager: manager,
		Store:   store,
		Logger:  logger,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("serving", "addr", a.Config.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.close()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) close() {
	a.Manager.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("cache close failed", "error", err)
	}
	if err := a.Logger.Close(); err != nil {
		fmt.Println("logger close failed:", err)
	}
}
