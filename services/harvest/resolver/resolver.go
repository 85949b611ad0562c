// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/oscaromsn/harvest/services/harvest/bootstrap"
	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/llm"
)

// Outcome is the result kind of one resolver iteration.
type Outcome string

const (
	// OutcomeResolved means the node's parts were all resolved or
	// retained as constants.
	OutcomeResolved Outcome = "resolved"

	// OutcomeBlocked means at least one part got a not-found
	// placeholder; the node keeps those parts as dynamic.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeSkipped means the node was a script or HTML asset.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the iteration closed a cycle and was rolled
	// back.
	OutcomeFailed Outcome = "failed"

	// OutcomeComplete means the queue is empty and no node has
	// unresolved parts.
	OutcomeComplete Outcome = "analysis_complete"

	// OutcomeBlockedOnDependencies means the queue is empty but
	// unresolved parts remain somewhere in the graph.
	OutcomeBlockedOnDependencies Outcome = "blocked_on_dependencies"
)

// StepResult reports what one iteration did.
type StepResult struct {
	Outcome      Outcome          `json:"outcome"`
	NodeID       string           `json:"nodeId,omitempty"`
	DynamicParts []string         `json:"dynamicParts,omitempty"`
	NewNodeIDs   []string         `json:"newNodeIds,omitempty"`
	Unresolved   []dag.Unresolved `json:"unresolved,omitempty"`
	Cycles       [][]string       `json:"cycles,omitempty"`
}

// Resolver drives one session's graph. It is not safe for concurrent
// use; the session worker serializes all calls.
type Resolver struct {
	graph   *dag.Graph
	trace   *harparser.ParsedTrace
	cookies harparser.CookieSnapshot
	finder  *bootstrap.Finder
	client  llm.Client // nil means heuristics only
	logger  *slog.Logger

	queue     []string
	inputVars map[string]string
}

// Options configures New.
type Options struct {
	Graph          *dag.Graph
	Trace          *harparser.ParsedTrace
	Cookies        harparser.CookieSnapshot
	Finder         *bootstrap.Finder
	Client         llm.Client
	Logger         *slog.Logger
	InputVariables map[string]string
}

// New builds a resolver over a session's graph and inputs.
func New(opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inputVars := opts.InputVariables
	if inputVars == nil {
		inputVars = map[string]string{}
	}
	return &Resolver{
		graph:     opts.Graph,
		trace:     opts.Trace,
		cookies:   opts.Cookies,
		finder:    opts.Finder,
		client:    opts.Client,
		logger:    logger,
		inputVars: inputVars,
	}
}

// Enqueue appends a node id to the processing queue.
func (r *Resolver) Enqueue(id string) { r.queue = append(r.queue, id) }

// QueueLen returns the number of pending node ids.
func (r *Resolver) QueueLen() int { return len(r.queue) }

// PendingQueue returns a copy of the queue.
func (r *Resolver) PendingQueue() []string {
	out := make([]string, len(r.queue))
	copy(out, r.queue)
	return out
}

// SetInputVariables replaces the user-supplied variable map.
func (r *Resolver) SetInputVariables(vars map[string]string) {
	r.inputVars = map[string]string{}
	for k, v := range vars {
		r.inputVars[k] = v
	}
}

// Step runs one resolver iteration. A ctx deadline aborts the iteration
// with every provisional edit rolled back.
func (r *Resolver) Step(ctx context.Context) (*StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Pop, or report overall state when the queue is drained.
	if len(r.queue) == 0 {
		if unresolved := r.graph.UnresolvedNodes(); len(unresolved) > 0 {
			return &StepResult{Outcome: OutcomeBlockedOnDependencies, Unresolved: unresolved}, nil
		}
		return &StepResult{Outcome: OutcomeComplete}, nil
	}
	nodeID := r.queue[0]
	r.queue = r.queue[1:]

	node, err := r.graph.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if !node.IsRequest() {
		return &StepResult{Outcome: OutcomeResolved, NodeID: nodeID}, nil
	}
	req := node.Request

	// 2. Script and HTML assets carry no resolvable inputs.
	if isAsset(req) {
		if err := r.graph.SetDynamicParts(nodeID, nil); err != nil {
			return nil, err
		}
		r.logger.Debug("skipping asset node", "node", nodeID, "url", req.URL)
		return &StepResult{Outcome: OutcomeSkipped, NodeID: nodeID}, nil
	}

	// 3. Extract dynamic parts.
	candidates := r.extractParts(ctx, req)

	// 4. Classify each part against the whole trace.
	classifyIn := ClassifyInput{
		Trace:          r.trace,
		Current:        req,
		Cookies:        r.cookies,
		InputVariables: r.inputVars,
	}
	byValue := map[string]dag.ClassifiedParameter{}
	for _, c := range candidates {
		param := Classify(c, classifyIn)
		byValue[c.Value] = param
		if err := r.graph.UpsertClassifiedParameter(nodeID, param); err != nil {
			return nil, err
		}
	}

	// 5. Bind user variables: exact value matches always, plus whatever
	// the collaborator maps onto the extracted parts. Matched candidates
	// drop out of the producer search.
	bound := map[string]string{}
	for name, value := range r.inputVars {
		if req.Contains(value) {
			bound[name] = value
		}
	}
	for name, value := range r.matchInputs(ctx, req, candidates) {
		bound[name] = value
	}
	matchedValues := map[string]bool{}
	for name, value := range bound {
		if err := r.graph.SetInputVariable(nodeID, name, value); err != nil {
			return nil, err
		}
		matchedValues[value] = true
	}
	remaining := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if matchesInput(c.Value, r.inputVars) {
			continue
		}
		if matchedValues[c.Value] {
			param := byValue[c.Value]
			param.Classification = dag.ClassUserInput
			param.Confidence = 1.0
			param.Source = dag.SourceManual
			byValue[c.Value] = param
			if err := r.graph.UpsertClassifiedParameter(nodeID, param); err != nil {
				return nil, err
			}
			continue
		}
		remaining = append(remaining, c)
	}

	// 6. Only dynamic-classified parts can block completion. Session
	// and static constants stay on the node for the emitter; those with
	// a bootstrap recipe get it attached here.
	var dynamic []Candidate
	for _, c := range remaining {
		param := byValue[c.Value]
		switch param.Classification {
		case dag.ClassDynamic:
			dynamic = append(dynamic, c)
		case dag.ClassSessionConstant, dag.ClassStaticConstant:
			if src, ok := r.bootstrapFor(c, param); ok {
				param.Metadata.BootstrapSource = &src
				param.Metadata.RequiresBootstrap = true
				byValue[c.Value] = param
				if err := r.graph.UpsertClassifiedParameter(nodeID, param); err != nil {
					return nil, err
				}
				if err := r.graph.SetBootstrap(nodeID, &src); err != nil {
					return nil, err
				}
			}
		}
	}

	// 7-9. Find producers and grow the graph; all additions are
	// provisional until cycle detection passes.
	var addedNodes, addedEdges, enqueued []string
	var unresolvedParts []string
	rollback := func() {
		for _, id := range enqueued {
			r.queue = removeID(r.queue, id)
		}
		for i := len(addedEdges) - 2; i >= 0; i -= 2 {
			r.graph.RemoveEdge(addedEdges[i], addedEdges[i+1])
		}
		for _, id := range addedNodes {
			r.graph.RemoveNode(id)
		}
	}

	for _, c := range dynamic {
		producerID, created, isNew := r.findProducer(c.Value, req, node.GroupID)
		if created != "" {
			addedNodes = append(addedNodes, created)
		}
		if isNew {
			enqueued = append(enqueued, producerID)
			r.queue = append(r.queue, producerID)
		}
		if producerID == "" {
			// 8. A part with no producer becomes a not-found leaf.
			nfID := r.graph.AddNotFoundNode(c.Value, node.GroupID)
			addedNodes = append(addedNodes, nfID)
			producerID = nfID
			unresolvedParts = append(unresolvedParts, c.Value)
		}

		if err := r.graph.AddEdge(nodeID, producerID); err != nil {
			var cycleErr *dag.CycleError
			if errors.As(err, &cycleErr) {
				rollback()
				r.logger.Warn("iteration rolled back on cycle", "node", nodeID)
				return &StepResult{Outcome: OutcomeFailed, NodeID: nodeID, Cycles: cycleErr.Cycles}, nil
			}
			rollback()
			return nil, err
		}
		addedEdges = append(addedEdges, nodeID, producerID)

		// 10. Producers advertise the part they satisfy.
		if prod, err := r.graph.GetNode(producerID); err == nil && prod.Kind != dag.KindNotFound {
			if err := r.graph.AddExtractedParts(producerID, c.Value); err != nil {
				rollback()
				return nil, err
			}
		}
	}

	// 10. Persist: only parts with a not-found producer stay dynamic.
	// The node also advertises the tokens its own response produces.
	if err := r.graph.SetDynamicParts(nodeID, unresolvedParts); err != nil {
		rollback()
		return nil, err
	}
	if tokens := responseTokens(req); len(tokens) > 0 {
		if err := r.graph.AddExtractedParts(nodeID, tokens...); err != nil {
			return nil, err
		}
	}

	outcome := OutcomeResolved
	if len(unresolvedParts) > 0 {
		outcome = OutcomeBlocked
	}
	return &StepResult{
		Outcome:      outcome,
		NodeID:       nodeID,
		DynamicParts: unresolvedParts,
		NewNodeIDs:   addedNodes,
	}, nil
}

// extractParts runs the collaborator when configured, degrading to the
// heuristic extractor on any failure.
func (r *Resolver) extractParts(ctx context.Context, req *harparser.RequestRecord) []Candidate {
	heuristic := ExtractCandidates(req, r.inputVars)
	if r.client == nil {
		return heuristic
	}
	parts, err := r.client.IdentifyDynamicParts(ctx, RenderRequest(req), r.inputVars)
	if err != nil {
		r.logger.Warn("collaborator failed, using heuristic extraction", "error", err)
		return heuristic
	}
	byValue := map[string]Candidate{}
	for _, c := range heuristic {
		byValue[c.Value] = c
	}
	out := make([]Candidate, 0, len(parts))
	for _, p := range parts {
		if c, ok := byValue[p]; ok {
			out = append(out, c)
		} else {
			out = append(out, Candidate{Name: "llm", Value: p, Location: "llm"})
		}
	}
	return out
}

// matchInputs consults the collaborator to map user variables onto the
// request's extracted parts, covering values the user supplied in a
// different form than the trace recorded. Degrades to no extra matches
// on any failure; exact-value binding has already happened.
func (r *Resolver) matchInputs(ctx context.Context, req *harparser.RequestRecord, candidates []Candidate) map[string]string {
	if r.client == nil || len(r.inputVars) == 0 || len(candidates) == 0 {
		return nil
	}
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		parts = append(parts, c.Value)
	}
	result, err := r.client.IdentifyInputVariables(ctx, RenderRequest(req), r.inputVars, parts)
	if err != nil {
		r.logger.Warn("collaborator input matching failed, using exact values only", "error", err)
		return nil
	}
	matched := map[string]string{}
	for _, v := range result.Identified {
		if _, known := r.inputVars[v.VariableName]; known && v.VariableValue != "" {
			matched[v.VariableName] = v.VariableValue
		}
	}
	return matched
}

// findProducer searches cookies first, then earlier responses. Returns
// the producer node id, the id of any node created, and whether that
// node needs processing.
func (r *Resolver) findProducer(part string, consumer *harparser.RequestRecord, groupID string) (producerID, created string, isNew bool) {
	for name, cookie := range r.cookies {
		if strings.Contains(cookie.Value, part) {
			id := r.graph.AddCookieNode(name, cookie.Value)
			return id, "", false
		}
	}

	var best *harparser.RequestRecord
	for _, req := range r.trace.Requests {
		if req == consumer || req.Response == nil {
			continue
		}
		if !consumer.Timestamp.IsZero() && req.Timestamp.After(consumer.Timestamp) {
			continue
		}
		if !strings.Contains(req.Response.Body, part) {
			continue
		}
		if best == nil || req.Timestamp.Before(best.Timestamp) ||
			(req.Timestamp.Equal(best.Timestamp) && len(req.Response.Body) < len(best.Response.Body)) {
			best = req
		}
	}
	if best == nil {
		return "", "", false
	}
	// Reuse only within the consumer's group; emission walks one group
	// at a time and a cross-group producer would fall out of it.
	if id, ok := r.graph.FindNodeByRequest(best); ok {
		if gid, err := r.graph.NodeGroup(id); err == nil && gid == groupID {
			return id, "", false
		}
	}
	id, err := r.graph.AddRequestNode(best, groupID)
	if err != nil {
		return "", "", false
	}
	return id, id, true
}

// bootstrapFor consults the finder for session and static constants.
func (r *Resolver) bootstrapFor(c Candidate, param dag.ClassifiedParameter) (dag.BootstrapSource, bool) {
	if r.finder == nil {
		return dag.BootstrapSource{}, false
	}
	if param.Classification != dag.ClassSessionConstant && param.Classification != dag.ClassStaticConstant {
		return dag.BootstrapSource{}, false
	}
	analysis := r.finder.FindSources([]string{c.Value})
	src, ok := analysis.Sources[c.Value]
	return src, ok
}

// isAsset reports whether the request fetches a script or an HTML page.
func isAsset(req *harparser.RequestRecord) bool {
	if u, err := url.Parse(req.URL); err == nil && strings.HasSuffix(u.Path, ".js") {
		return true
	}
	return req.Response != nil && strings.Contains(req.Response.MimeType, "text/html")
}

// RenderRequest reconstructs a request in curl-like textual form for
// the collaborator.
func RenderRequest(req *harparser.RequestRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "curl -X %s '%s'", req.Method, req.URL)
	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, " \\\n  -H '%s: %s'", name, req.Headers[name])
	}
	if req.Body != "" {
		fmt.Fprintf(&sb, " \\\n  -d '%s'", req.Body)
	}
	return sb.String()
}

// tokenKeys marks JSON keys whose string values are worth advertising
// as extracted parts even before any consumer asks for them.
var tokenKeys = []string{"token", "key", "secret", "session", "auth", "csrf", "uid", "guid", "id"}

// responseTokens pulls token-bearing string values out of the node's
// own JSON response.
func responseTokens(req *harparser.RequestRecord) []string {
	if req.Response == nil || req.Response.JSON == nil {
		return nil
	}
	var tokens []string
	seen := map[string]bool{}
	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case map[string]any:
			// Keys are visited in sorted order so extraction order is
			// stable across runs.
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				child := v[key]
				if s, ok := child.(string); ok && s != "" && !seen[s] && isTokenKey(key) {
					seen[s] = true
					tokens = append(tokens, s)
				}
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(req.Response.JSON)
	return tokens
}

func isTokenKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range tokenKeys {
		if lower == k || strings.HasSuffix(lower, "_"+k) || strings.HasSuffix(lower, k) && len(lower) <= len(k)+6 {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
