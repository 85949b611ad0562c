// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/oscaromsn/harvest/services/harvest/auth"
	"github.com/oscaromsn/harvest/services/harvest/bootstrap"
	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/resolver"
)

// Config bounds the manager.
type Config struct {
	// MaxSessions caps concurrent live sessions; 0 means 10.
	MaxSessions int64

	// IdleTimeout is the administrative age after which idle sessions
	// are deleted; 0 disables the reaper.
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper scans; 0 means 1 minute.
	ReapInterval time.Duration
}

// Manager owns the live session set.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg    Config
	sem    *semaphore.Weighted
	client llm.Client // nil means heuristics only
	logger *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager builds a manager and starts its idle reaper.
func NewManager(cfg Config, client llm.Client, logger *slog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.MaxSessions),
		client:   client,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		m.wg.Add(1)
		go m.reapLoop()
	}
	return m
}

// CreateOptions configures CreateSession.
type CreateOptions struct {
	TracePath      string
	CookiePath     string
	Prompt         string
	InputVariables map[string]string
	ParseOptions   harparser.ParseOptions
}

// CreateSession parses the trace, grades it, and constructs a session.
// An empty-grade trace is rejected with har-quality-insufficient; a
// poor grade only logs a warning.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (*Session, error) {
	if !m.sem.TryAcquire(1) {
		return nil, datatypes.NewError(datatypes.CodeCapacityExceeded,
			fmt.Sprintf("session cap of %d reached; delete a session first", m.cfg.MaxSessions))
	}
	if err := ctx.Err(); err != nil {
		m.sem.Release(1)
		return nil, datatypes.WrapError(datatypes.CodeCancelled, "session creation cancelled", err)
	}
	sess, err := m.buildSession(opts)
	if err != nil {
		m.sem.Release(1)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session created", "session", sess.ID,
		"grade", sess.Trace.Validation.Grade, "requests", len(sess.Trace.Requests))
	return sess, nil
}

func (m *Manager) buildSession(opts CreateOptions) (*Session, error) {
	trace, err := harparser.ParseFile(opts.TracePath, opts.ParseOptions)
	if err != nil {
		switch {
		case errors.Is(err, harparser.ErrEmptyArchive):
			return nil, datatypes.WrapError(datatypes.CodeEmptyArchive, "the archive contains no entries", err)
		case errors.Is(err, harparser.ErrMalformedArchive):
			return nil, datatypes.WrapError(datatypes.CodeMalformedArchive, "the archive does not parse as a HAR document", err)
		default:
			return nil, datatypes.WrapError(datatypes.CodeMalformedArchive, "trace could not be read", err)
		}
	}

	if trace.Validation.Grade == harparser.QualityEmpty {
		return nil, datatypes.NewError(datatypes.CodeHARQualityInsufficient,
			"no analyzable requests survived filtering").
			WithBlockers(trace.Validation.Issues, trace.Validation.Recommendations)
	}

	var cookies harparser.CookieSnapshot
	if opts.CookiePath != "" {
		cookies, err = harparser.ParseCookieFile(opts.CookiePath)
		if err != nil {
			return nil, datatypes.WrapError(datatypes.CodeMalformedArchive, "cookie snapshot could not be read", err)
		}
	}

	inputVars := map[string]string{}
	for k, v := range opts.InputVariables {
		inputVars[k] = v
	}

	authAnalysis := auth.Analyze(trace)
	graph := dag.New()
	finder := bootstrap.NewFinder(trace, cookies, authAnalysis)

	sess := &Session{
		ID:             uuid.NewString(),
		Prompt:         opts.Prompt,
		Trace:          trace,
		Cookies:        cookies,
		Graph:          graph,
		Auth:           authAnalysis,
		InputVariables: inputVars,
		Workflows:      map[string]*WorkflowGroup{},
		CreatedAt:      time.Now(),
		LastActivity:   time.Now(),
	}
	sess.Resolver = resolver.New(resolver.Options{
		Graph:          graph,
		Trace:          trace,
		Cookies:        cookies,
		Finder:         finder,
		Client:         m.client,
		Logger:         m.logger.With("session", sess.ID),
		InputVariables: inputVars,
	})

	sess.AppendLog(LevelInfo, fmt.Sprintf("session created for prompt %q", opts.Prompt), nil)
	if trace.Validation.Grade == harparser.QualityPoor {
		sess.AppendLog(LevelWarn, "trace quality is poor; analysis may stall", map[string]any{
			"issues": trace.Validation.Issues,
		})
		m.logger.Warn("poor trace quality", "issues", trace.Validation.Issues)
	}
	return sess, nil
}

// GetSession returns a session by id.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, datatypes.NewError(datatypes.CodeSessionNotFound, "no such session").WithSession(id)
	}
	return sess, nil
}

// ListSessions returns summaries sorted by creation time.
func (m *Manager) ListSessions() []datatypes.SessionSummary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	out := make([]datatypes.SessionSummary, len(sessions))
	for i, s := range sessions {
		out[i] = datatypes.SessionSummary{
			SessionID:  s.ID,
			Prompt:     s.Prompt,
			IsComplete: s.IsComplete,
			NodeCount:  s.Graph.NodeCount(),
			CreatedAt:  s.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}

// DeleteSession removes a session and frees its capacity slot.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return datatypes.NewError(datatypes.CodeSessionNotFound, "no such session").WithSession(id)
	}
	m.sem.Release(1)
	m.logger.Info("session deleted", "session", id)
	return nil
}

// AddLog appends an entry to a session's log.
func (m *Manager) AddLog(id string, level LogLevel, message string, data map[string]any) error {
	sess, err := m.GetSession(id)
	if err != nil {
		return err
	}
	sess.AppendLog(level, message, data)
	return nil
}

// ClearAllSessions drops every session. Used at shutdown.
func (m *Manager) ClearAllSessions() {
	m.mu.Lock()
	n := len(m.sessions)
	for id := range m.sessions {
		delete(m.sessions, id)
		m.sem.Release(1)
	}
	m.mu.Unlock()
	if n > 0 {
		m.logger.Info("cleared all sessions", "count", n)
	}
}

// Close stops the reaper and clears all sessions.
func (m *Manager) Close() {
	close(m.done)
	m.wg.Wait()
	m.ClearAllSessions()
}

func (m *Manager) reapLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.LastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range stale {
		m.logger.Info("reaping idle session", "session", id)
		_ = m.DeleteSession(id)
	}
}
