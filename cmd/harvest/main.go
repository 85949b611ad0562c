// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/oscaromsn/harvest/pkg/ux"
	"github.com/oscaromsn/harvest/services/harvest/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Turn a recorded browser trace into a runnable API client",
	Long: `Harvest analyzes an HTTP Archive captured while performing an action in
a browser, discovers the request that performs the action and its
prerequisite chain, and emits a standalone TypeScript client for replay.

Examples:
  harvest analyze --har trace.har --prompt "download the invoice"
  harvest analyze --har trace.har --cookies cookies.json \
      --prompt "search for flights" --var origin=SFO --out client.ts
  harvest serve
  harvest cache list`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config",
		os.Getenv("HARVEST_CONFIG"), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"log progress to stderr")
}

func loadConfig() (config.Config, error) {
	return config.Load(flagConfig)
}
