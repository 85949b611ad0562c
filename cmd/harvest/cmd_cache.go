// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oscaromsn/harvest/pkg/logging"
	"github.com/oscaromsn/harvest/pkg/ux"
	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the completed-session artifact cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		sessions, err := store.AllCachedSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ux.Muted("no completed sessions in " + cfg.Cache.Root)
			return nil
		}
		rows := make([][]string, 0, len(sessions))
		for _, meta := range sessions {
			rows = append(rows, []string{
				meta.SessionID,
				meta.Grade,
				strconv.Itoa(meta.TotalNodes),
				meta.CompletedAt.Format("2006-01-02 15:04"),
				truncate(meta.Prompt, 48),
			})
		}
		ux.Table([]string{"SESSION", "GRADE", "NODES", "COMPLETED", "PROMPT"}, rows)
		return nil
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show SESSION_ID",
	Short: "Show one completed session's metadata and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		meta, err := store.GetCachedMetadata(args[0])
		if err != nil {
			return err
		}
		ux.Title(meta.SessionID)
		ux.KeyValue("prompt", meta.Prompt)
		ux.KeyValue("grade", meta.Grade)
		ux.KeyValue("nodes", strconv.Itoa(meta.TotalNodes))
		ux.KeyValue("completed", meta.CompletedAt.Format(time.RFC3339))
		ux.KeyValue("script", strconv.FormatBool(meta.CodeGenerated))
		ux.KeyValue("artifacts", strings.Join(meta.Artifacts, ", "))
		return nil
	},
}

var cacheRemoveCmd = &cobra.Command{
	Use:     "rm SESSION_ID",
	Aliases: []string{"remove"},
	Short:   "Delete one completed session's artifacts",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.RemoveCached(args[0]); err != nil {
			return err
		}
		ux.Success("removed " + args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheListCmd, cacheShowCmd, cacheRemoveCmd)
}

func openStore() (config.Config, *cache.Cache, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(logging.Config{
		Level:   logging.LevelWarn,
		Service: "harvest",
		Quiet:   !flagVerbose,
	})
	store, err := cache.New(cache.Options{Root: cfg.Cache.Root, Logger: logger.Slog()})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("open artifact cache: %w", err)
	}
	return cfg, store, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
