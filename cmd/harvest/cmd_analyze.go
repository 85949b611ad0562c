// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oscaromsn/harvest/pkg/logging"
	"github.com/oscaromsn/harvest/pkg/ux"
	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/codegen"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/telemetry"
	"github.com/oscaromsn/harvest/services/harvest/workflow"
)

var (
	analyzeHAR     string
	analyzeCookies string
	analyzePrompt  string
	analyzeVars    map[string]string
	analyzeMaxIter int
	analyzeOut     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full pipeline over a trace and emit a client script",
	Long: `Analyze ingests a HAR file plus an optional cookie snapshot, identifies
the request that performs the prompted action, resolves its dependency
chain, and emits a TypeScript client.

The script is written to --out when given, otherwise to stdout. When the
analysis stalls the blockers are printed instead and the command exits
non-zero.

Examples:
  harvest analyze --har trace.har --prompt "place the order"
  harvest analyze --har trace.har --cookies cookies.json \
      --prompt "search flights" --var origin=SFO --var date=2025-06-01 \
      --out flights.ts`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeHAR, "har", "", "path to the HAR trace (required)")
	analyzeCmd.Flags().StringVar(&analyzeCookies, "cookies", "", "path to a cookie snapshot JSON")
	analyzeCmd.Flags().StringVar(&analyzePrompt, "prompt", "", "natural-language action description (required)")
	analyzeCmd.Flags().StringToStringVar(&analyzeVars, "var", nil, "known input value as name=value, repeatable")
	analyzeCmd.Flags().IntVar(&analyzeMaxIter, "max-iterations", 0, "resolver iteration cap, 0 uses the configured default")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "", "write the script to this file instead of stdout")
	if err := analyzeCmd.MarkFlagRequired("har"); err != nil {
		panic(err)
	}
	if err := analyzeCmd.MarkFlagRequired("prompt"); err != nil {
		panic(err)
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "harvest",
		Quiet:   !flagVerbose,
	})
	defer func() { _ = logger.Close() }()
	slogger := logger.Slog()

	var client llm.Client
	openaiClient, err := llm.NewOpenAIClient(llm.OpenAIOptions{
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		BaseURL:           cfg.LLM.BaseURL,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err == nil {
		client = openaiClient
	} else if !errors.Is(err, llm.ErrNoProvider) {
		logger.Warn("llm provider unavailable, using heuristics", "error", err)
	}

	manager := session.NewManager(session.Config{
		MaxSessions:  cfg.Sessions.Max,
		IdleTimeout:  cfg.Sessions.IdleTimeout.Std(),
		ReapInterval: cfg.Sessions.ReapInterval.Std(),
	}, client, slogger)
	defer manager.Close()

	store, err := cache.New(cache.Options{Root: cfg.Cache.Root, Logger: slogger})
	if err != nil {
		return fmt.Errorf("open artifact cache: %w", err)
	}
	defer func() { _ = store.Close() }()

	orchestrator := workflow.New(workflow.Options{
		Manager:       manager,
		Generator:     codegen.New(slogger),
		Cache:         store,
		Client:        client,
		Metrics:       telemetry.NewMetrics(),
		Logger:        slogger,
		MaxIterations: cfg.Resolver.MaxIterations,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orchestrator.Run(ctx, workflow.RunRequest{
		TracePath:      analyzeHAR,
		CookiePath:     analyzeCookies,
		Prompt:         analyzePrompt,
		InputVariables: analyzeVars,
		MaxIterations:  analyzeMaxIter,
	})
	if err != nil {
		return err
	}

	if !result.Complete {
		reportStall(result)
		return fmt.Errorf("analysis stalled after %d iterations", result.Iterations)
	}

	if analyzeOut != "" {
		if err := os.WriteFile(analyzeOut, []byte(result.Script), 0o640); err != nil {
			return fmt.Errorf("write script: %w", err)
		}
		ux.Success("client script written to " + analyzeOut)
		ux.KeyValue("session", result.SessionID)
		ux.KeyValue("action", result.ActionURL)
		ux.KeyValue("iterations", fmt.Sprintf("%d", result.Iterations))
		return nil
	}
	fmt.Print(result.Script)
	return nil
}

func reportStall(result *workflow.RunResult) {
	ux.ErrorBox("analysis incomplete",
		fmt.Sprintf("stopped after %d iterations with outcome %q", result.Iterations, result.LastOutcome))
	if result.Diagnosis == nil {
		return
	}
	if len(result.Diagnosis.Blockers) > 0 {
		ux.Warning("blockers")
		ux.List(result.Diagnosis.Blockers)
	}
	if len(result.Diagnosis.Recommendations) > 0 {
		ux.Info(ux.Styles.Bold.Render("recommendations"))
		ux.List(result.Diagnosis.Recommendations)
	}
	ux.Muted("inspect the session artifacts with the service's status.json and dag.json endpoints")
}
