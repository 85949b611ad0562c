// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow binds the pipeline end to end for one-shot use:
// create a session, pick the master, resolve to completion, emit.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/codegen"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/resolver"
	"github.com/oscaromsn/harvest/services/harvest/scorer"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/telemetry"
)

const (
	// DefaultMaxIterations bounds the resolve loop when the caller does
	// not choose.
	DefaultMaxIterations = 20

	// IterationFloor and IterationCeiling bound any configured cap.
	IterationFloor   = 1
	IterationCeiling = 50
)

// Orchestrator runs the one-shot pipeline.
type Orchestrator struct {
	manager   *session.Manager
	generator *codegen.Generator
	store     *cache.Cache       // nil disables artifact caching
	client    llm.Client         // nil means scorer-only selection
	metrics   *telemetry.Metrics // nil disables metric recording
	logger    *slog.Logger
	maxIter   int
}

// Options configures New.
type Options struct {
	Manager       *session.Manager
	Generator     *codegen.Generator
	Cache         *cache.Cache
	Client        llm.Client
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
	MaxIterations int
}

// New builds an orchestrator, clamping the iteration cap.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := opts.Generator
	if gen == nil {
		gen = codegen.New(logger)
	}
	return &Orchestrator{
		manager:   opts.Manager,
		generator: gen,
		store:     opts.Cache,
		client:    opts.Client,
		metrics:   opts.Metrics,
		logger:    logger,
		maxIter:   clampIterations(opts.MaxIterations),
	}
}

func clampIterations(n int) int {
	if n == 0 {
		return DefaultMaxIterations
	}
	if n < IterationFloor {
		return IterationFloor
	}
	if n > IterationCeiling {
		return IterationCeiling
	}
	return n
}

// RunRequest is one pipeline invocation.
type RunRequest struct {
	TracePath      string
	CookiePath     string
	Prompt         string
	InputVariables map[string]string
	MaxIterations  int // 0 uses the orchestrator default
}

// RunResult reports either the emitted script or the state the caller
// can continue from interactively.
type RunResult struct {
	SessionID   string                      `json:"sessionId"`
	ActionURL   string                      `json:"actionUrl"`
	Complete    bool                        `json:"complete"`
	Iterations  int                         `json:"iterations"`
	LastOutcome resolver.Outcome            `json:"lastOutcome"`
	Script      string                      `json:"script,omitempty"`
	Diagnosis   *session.CompletionAnalysis `json:"diagnosis,omitempty"`
}

// Run drives the full pipeline. A hard failure (unreadable trace, no
// matching URL) returns an error; an analysis that stalls returns a
// RunResult carrying the diagnosis instead.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	sess, err := o.manager.CreateSession(ctx, session.CreateOptions{
		TracePath:      req.TracePath,
		CookiePath:     req.CookiePath,
		Prompt:         req.Prompt,
		InputVariables: req.InputVariables,
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.SessionsRejected.WithLabelValues(string(datatypes.CodeOf(err))).Inc()
		}
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.SessionsCreated.Inc()
	}

	if err := o.selectMaster(ctx, sess); err != nil {
		return nil, err
	}

	limit := o.maxIter
	if req.MaxIterations != 0 {
		limit = clampIterations(req.MaxIterations)
	}
	resolveStart := time.Now()
	iterations, last, err := o.resolve(ctx, sess, limit)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ResolveDuration.Observe(time.Since(resolveStart).Seconds())
	}
	if err := o.manager.SyncCompletionState(sess.ID); err != nil {
		return nil, err
	}

	result := &RunResult{
		SessionID:   sess.ID,
		ActionURL:   sess.ActionURL,
		Iterations:  iterations,
		LastOutcome: last,
	}
	if last != resolver.OutcomeComplete {
		result.Diagnosis = session.Analyze(sess)
		sess.AppendLog(session.LevelWarn, "pipeline stopped before completion", map[string]any{
			"iterations": iterations, "outcome": string(last),
		})
		return result, nil
	}

	start := time.Now()
	script, err := o.generator.Generate(sess)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.EmitDuration.Observe(time.Since(start).Seconds())
		o.metrics.SessionsCompleted.Inc()
	}
	sess.GeneratedScript = script
	result.Complete = true
	result.Script = script

	o.cacheCompleted(sess, script)
	return result, nil
}

// selectMaster chooses the action URL, delegating to the LLM when one is
// configured and falling back to the scorer.
func (o *Orchestrator) selectMaster(ctx context.Context, sess *session.Session) error {
	var chosen string
	if o.client != nil {
		answer, err := o.client.IdentifyURL(ctx, sess.Prompt, sess.Trace.URLs)
		if err != nil {
			o.logger.Warn("llm url selection failed, using scorer", "error", err)
			if o.metrics != nil {
				o.metrics.LLMFallbacks.Inc()
			}
		} else {
			chosen = answer
		}
	}
	if chosen == "" {
		top, ok := scorer.Top(sess.Prompt, sess.Trace.URLs)
		if !ok {
			return datatypes.NewError(datatypes.CodeURLNotFoundInArchive,
				"the trace has no candidate URLs for this action").WithSession(sess.ID)
		}
		chosen = top.URL
	}

	rec := findRequest(sess.Trace, chosen)
	if rec == nil {
		return datatypes.NewError(datatypes.CodeURLNotFoundInArchive,
			fmt.Sprintf("selected URL %s has no request record", chosen)).WithSession(sess.ID)
	}

	masterID, err := sess.Graph.AddMasterNode(rec, "")
	if err != nil {
		return datatypes.WrapError(datatypes.CodeInternal, "cannot create master node", err).WithSession(sess.ID)
	}
	sess.MasterNodeID = masterID
	sess.ActionURL = rec.URL
	sess.Resolver.Enqueue(masterID)
	sess.AppendLog(session.LevelInfo, fmt.Sprintf("master node selected for %s %s", rec.Method, rec.URL), nil)
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, sess *session.Session, limit int) (int, resolver.Outcome, error) {
	var last resolver.Outcome
	for i := 1; i <= limit; i++ {
		res, err := sess.Resolver.Step(ctx)
		if err != nil {
			return i - 1, last, err
		}
		last = res.Outcome
		if o.metrics != nil {
			o.metrics.ResolverIterations.WithLabelValues(string(res.Outcome)).Inc()
		}
		sess.AppendLog(session.LevelDebug, "resolver iteration finished", map[string]any{
			"outcome": string(res.Outcome), "node": res.NodeID,
		})
		if res.Outcome == resolver.OutcomeComplete || res.Outcome == resolver.OutcomeBlockedOnDependencies {
			return i, last, nil
		}
	}
	return limit, last, nil
}

func (o *Orchestrator) cacheCompleted(sess *session.Session, script string) {
	CacheCompleted(o.store, sess, script, o.logger)
}

// CacheCompleted persists a finished session's artifacts. Failures are
// logged, not returned: the script already exists.
func CacheCompleted(store *cache.Cache, sess *session.Session, script string, logger *slog.Logger) {
	if store == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	harBytes, err := sess.Trace.Serialize()
	if err != nil {
		logger.Warn("trace re-serialization failed, caching without it", "session", sess.ID, "error", err)
	}
	var cookieBytes []byte
	if len(sess.Cookies) > 0 {
		cookieBytes, err = harparser.SerializeCookies(sess.Cookies)
		if err != nil {
			logger.Warn("cookie serialization failed, caching without it", "session", sess.ID, "error", err)
		}
	}
	if _, err := store.Cache(cache.Entry{
		SessionID:  sess.ID,
		Prompt:     sess.Prompt,
		Grade:      string(sess.Trace.Validation.Grade),
		TotalNodes: sess.Graph.NodeCount(),
		Analysis:   session.Analyze(sess),
		HAR:        harBytes,
		Cookies:    cookieBytes,
		Script:     script,
	}); err != nil {
		logger.Warn("caching completed session failed", "session", sess.ID, "error", err)
	}
}

// findRequest returns the first request record with the given URL.
func findRequest(trace *harparser.ParsedTrace, url string) *harparser.RequestRecord {
	for _, r := range trace.Requests {
		if r.URL == url {
			return r
		}
	}
	return nil
}
