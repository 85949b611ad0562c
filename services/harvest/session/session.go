// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns the live analysis sessions: their lifecycle,
// their append-only logs, and the completion-state machine every
// downstream tool consults.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oscaromsn/harvest/services/harvest/auth"
	"github.com/oscaromsn/harvest/services/harvest/bootstrap"
	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/resolver"
)

// LogLevel grades session log entries.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// LogEntry is one line of a session's append-only log.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// WorkflowGroup names a master-centered subset of the DAG.
type WorkflowGroup struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Priority     int    `json:"priority"`
	Complexity   string `json:"complexity"`
	MasterNodeID string `json:"masterNodeId,omitempty"`
}

// Session is one live analysis. All mutation goes through the session's
// worker; the mutex serializes the worker against artifact readers.
type Session struct {
	mu sync.Mutex

	ID     string
	Prompt string

	Trace   *harparser.ParsedTrace
	Cookies harparser.CookieSnapshot
	Graph   *dag.Graph

	Resolver *resolver.Resolver

	ActionURL      string
	MasterNodeID   string
	CurrentNodeID  string
	InputVariables map[string]string
	IsComplete     bool

	GeneratedScript string

	Auth      *auth.Analysis
	Bootstrap *bootstrap.Analysis

	Workflows        map[string]*WorkflowGroup
	ActiveWorkflowID string

	CreatedAt    time.Time
	LastActivity time.Time

	log []LogEntry
}

// Touch records activity for the idle reaper.
func (s *Session) Touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// AppendLog adds one entry to the session log.
func (s *Session) AppendLog(level LogLevel, message string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Data:      data,
	})
	s.LastActivity = time.Now()
}

// LogEntries returns a copy of the log.
func (s *Session) LogEntries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

// FormatLog renders the log as the newline-delimited text artifact.
func (s *Session) FormatLog() string {
	var sb strings.Builder
	for _, e := range s.LogEntries() {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}
	return sb.String()
}

// ActiveGroup returns the active workflow group, or nil.
func (s *Session) ActiveGroup() *WorkflowGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ActiveWorkflowID == "" {
		return nil
	}
	return s.Workflows[s.ActiveWorkflowID]
}

// SetActiveGroup switches the driven workflow.
func (s *Session) SetActiveGroup(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Workflows[id]; !ok {
		return false
	}
	s.ActiveWorkflowID = id
	return true
}
