// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the service configuration from YAML. The loaded
// Config is an explicit value handed to constructors; there is no
// package-level singleton.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxFileSize caps the config file read at 1MB.
const MaxFileSize = 1024 * 1024

// Duration wraps time.Duration with YAML string parsing ("90s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full service configuration.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Cache struct {
		Root string `yaml:"root"`
	} `yaml:"cache"`

	Sessions struct {
		Max          int64    `yaml:"max"`
		IdleTimeout  Duration `yaml:"idleTimeout"`
		ReapInterval Duration `yaml:"reapInterval"`
	} `yaml:"sessions"`

	Resolver struct {
		MaxIterations int `yaml:"maxIterations"`
	} `yaml:"resolver"`

	Log struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"log"`

	LLM struct {
		Provider          string  `yaml:"provider"`
		Model             string  `yaml:"model"`
		BaseURL           string  `yaml:"baseUrl"`
		APIKey            string  `yaml:"apiKey"`
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	} `yaml:"llm"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Server.Addr = ":8400"
	cfg.Cache.Root = defaultDir("cache")
	cfg.Sessions.Max = 10
	cfg.Sessions.IdleTimeout = Duration(30 * time.Minute)
	cfg.Sessions.ReapInterval = Duration(time.Minute)
	cfg.Resolver.MaxIterations = 20
	cfg.Log.Level = "info"
	cfg.LLM.Provider = "openai"
	cfg.LLM.RequestsPerSecond = 2
	return cfg
}

// DefaultPath is ~/.harvest/harvest.yaml.
func DefaultPath() string {
	return filepath.Join(baseDir(), "harvest.yaml")
}

func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".harvest"
	}
	return filepath.Join(home, ".harvest")
}

func defaultDir(sub string) string {
	return filepath.Join(baseDir(), sub)
}

// Load reads a config file, creating it with defaults on first run. An
// empty path means DefaultPath. Environment variables HARVEST_OPENAI_API_KEY
// and OPENAI_API_KEY override the file's API key, in that order.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			return Config{}, fmt.Errorf("create default config: %w", writeErr)
		}
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if len(data) > MaxFileSize {
			return Config{}, fmt.Errorf("config %s exceeds %d bytes", path, MaxFileSize)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, env := range []string{"HARVEST_OPENAI_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(env); v != "" {
			cfg.LLM.APIKey = v
			break
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func writeDefault(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

// Validate enforces field bounds.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Cache.Root == "" {
		return errors.New("cache.root must not be empty")
	}
	if c.Sessions.Max < 1 {
		return fmt.Errorf("sessions.max must be at least 1, got %d", c.Sessions.Max)
	}
	if c.Resolver.MaxIterations < 1 || c.Resolver.MaxIterations > 50 {
		return fmt.Errorf("resolver.maxIterations must be in [1, 50], got %d", c.Resolver.MaxIterations)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requestsPerSecond must not be negative, got %g", c.LLM.RequestsPerSecond)
	}
	return nil
}
