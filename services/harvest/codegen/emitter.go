// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package codegen renders a completed session as a runnable TypeScript
// client. Emission is deterministic: equal sessions, including node
// identifiers, produce byte-identical scripts.
package codegen

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/session"
)

// Generator emits client scripts.
type Generator struct {
	logger *slog.Logger
}

// New builds a Generator.
func New(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{logger: logger}
}

type paramKind int

const (
	paramUserInput paramKind = iota
	paramSessionConstant
	paramDynamic
	paramCookie
)

type param struct {
	tsName string
	value  string
	kind   paramKind
	doc    string
}

type capture struct {
	tsName string
	value  string
	lines  []string
}

type nodePlan struct {
	node     *dag.Node
	funcName string
	stepVar  string
	params   []param
	captures []capture
	reqType  string
	respType string
}

// Generate renders the active workflow group of a completed session.
// Incomplete sessions are refused with a structured diagnosis.
func (g *Generator) Generate(sess *session.Session) (string, error) {
	analysis := session.Analyze(sess)
	notFound := 0
	for _, n := range sess.Graph.AllNodes() {
		if n.Kind == dag.KindNotFound {
			notFound++
		}
	}
	if !analysis.IsComplete || notFound > 0 {
		err := datatypes.NewError(datatypes.CodeAnalysisIncomplete,
			"the dependency graph is not ready for emission").
			WithSession(sess.ID).
			WithBlockers(analysis.Blockers, analysis.Recommendations)
		err.Details = map[string]any{"diagnostics": analysis.Diagnostics}
		return "", err
	}

	groupID := ""
	if ag := sess.ActiveGroup(); ag != nil {
		groupID = ag.ID
	}
	order := sess.Graph.TopologicalSortGroup(groupID)

	plans, entryParams, valueExpr, err := g.plan(sess, order)
	if err != nil {
		return "", err
	}
	return g.render(sess, plans, entryParams, valueExpr)
}

// plan walks the topological order assigning function names, captures,
// and parameters before any text is produced.
func (g *Generator) plan(sess *session.Session, order []string) ([]*nodePlan, []param, map[string]string, error) {
	graph := sess.Graph

	var plans []*nodePlan
	var entryParams []param
	valueExpr := map[string]string{} // literal value -> entry-scope expression
	entrySeen := map[string]bool{}
	funcSeen := map[string]int{}
	step := 0

	addEntryParam := func(p param) string {
		name := p.tsName
		for i := 2; entrySeen[name]; i++ {
			name = fmt.Sprintf("%s%d", p.tsName, i)
		}
		entrySeen[name] = true
		p.tsName = name
		entryParams = append(entryParams, p)
		return name
	}

	for _, id := range order {
		node, err := graph.GetNode(id)
		if err != nil {
			return nil, nil, nil, err
		}
		switch node.Kind {
		case dag.KindCookie:
			name := addEntryParam(param{
				tsName: camelIdent(node.CookieKey),
				value:  node.CookieValue,
				kind:   paramCookie,
				doc:    fmt.Sprintf("Value of browser cookie %q.", node.CookieKey),
			})
			valueExpr[node.CookieValue] = "params." + name
		case dag.KindRequest, dag.KindMaster:
			step++
			base := funcNameFor(node.Request.Method, node.Request.URL)
			funcSeen[base]++
			name := base
			if funcSeen[base] > 1 {
				name = fmt.Sprintf("%s%d", base, funcSeen[base])
			}
			plan := &nodePlan{
				node:     node,
				funcName: name,
				stepVar:  fmt.Sprintf("r%d", step),
			}
			if node.Request.BodyJSON != nil {
				plan.reqType = pascalIdent(name) + "Request"
			}
			if node.Request.Response != nil && node.Request.Response.JSON != nil {
				plan.respType = pascalIdent(name) + "Response"
			}
			g.planCaptures(plan, graph, valueExpr)
			plans = append(plans, plan)
		}
	}

	// Parameters need the full value map, so they come after every
	// producer has registered its captures.
	for _, plan := range plans {
		g.planParams(plan, valueExpr, addEntryParam)
	}
	return plans, entryParams, valueExpr, nil
}

func (g *Generator) planCaptures(plan *nodePlan, graph *dag.Graph, valueExpr map[string]string) {
	node := plan.node
	used := map[string]bool{}
	for i, part := range node.ExtractedParts {
		resp := node.Request.Response
		var path string
		hasPath := false
		if resp != nil && resp.JSON != nil {
			path, hasPath = jsonPathTo(resp.JSON, part)
		}

		base := captureName(graph, part)
		if base == "" && hasPath {
			base = camelIdent(lastPathKey(path))
		}
		if base == "" {
			base = fmt.Sprintf("value%d", i+1)
		}
		name := base
		for j := 2; used[name]; j++ {
			name = fmt.Sprintf("%s%d", base, j)
		}
		used[name] = true

		c := capture{tsName: name, value: part}
		if hasPath {
			c.lines = []string{
				fmt.Sprintf("const %s = String(%s);", name, pathExpr(path)),
			}
		}
		if c.lines == nil && resp != nil {
			if pattern, ok := anchoredCapture(resp.Body, part); ok {
				matchVar := name + "Match"
				c.lines = []string{
					fmt.Sprintf("const %s = body.match(%s);", matchVar, jsRegexLiteral(pattern)),
					fmt.Sprintf("if (!%s) {", matchVar),
					fmt.Sprintf("  throw new Error(\"response did not contain a value for %s\");", name),
					"}",
					fmt.Sprintf("const %s = %s[1];", name, matchVar),
				}
			}
		}
		if c.lines == nil {
			// No recoverable location; keep replay running with the
			// recorded value.
			c.lines = []string{fmt.Sprintf("const %s = %s;", name, quoteString(part))}
		}
		plan.captures = append(plan.captures, c)
		valueExpr[part] = plan.stepVar + "." + name
	}
}

func (g *Generator) planParams(plan *nodePlan, valueExpr map[string]string, addEntryParam func(param) string) {
	node := plan.node
	usedNames := map[string]bool{}
	for _, c := range plan.captures {
		usedNames[c.tsName] = true
	}
	seenValues := map[string]bool{}

	localName := func(base string) string {
		name := base
		for i := 2; usedNames[name]; i++ {
			name = fmt.Sprintf("%s%d", base, i)
		}
		usedNames[name] = true
		return name
	}

	// User inputs first, alphabetical.
	inputNames := make([]string, 0, len(node.InputVariables))
	for k := range node.InputVariables {
		inputNames = append(inputNames, k)
	}
	sort.Strings(inputNames)
	for _, k := range inputNames {
		v := node.InputVariables[k]
		if v == "" || seenValues[v] {
			continue
		}
		seenValues[v] = true
		name := localName(camelIdent(k))
		plan.params = append(plan.params, param{tsName: name, value: v, kind: paramUserInput})
		if _, ok := valueExpr[v]; !ok {
			entry := addEntryParam(param{
				tsName: camelIdent(k), value: v, kind: paramUserInput,
				doc: fmt.Sprintf("User input %q.", k),
			})
			valueExpr[v] = "params." + entry
		}
	}

	// Session constants, alphabetical by parameter name.
	constants := make([]dag.ClassifiedParameter, 0)
	for _, p := range node.ClassifiedParameters {
		if p.Classification == dag.ClassSessionConstant {
			constants = append(constants, p)
		}
	}
	sort.Slice(constants, func(i, j int) bool { return constants[i].Name < constants[j].Name })
	for _, p := range constants {
		if p.Value == "" || seenValues[p.Value] {
			continue
		}
		seenValues[p.Value] = true
		name := localName(camelIdent(p.Name))
		plan.params = append(plan.params, param{tsName: name, value: p.Value, kind: paramSessionConstant})
		if _, ok := valueExpr[p.Value]; !ok {
			entry := addEntryParam(param{
				tsName: camelIdent(p.Name), value: p.Value, kind: paramSessionConstant,
				doc: bootstrapDoc(p),
			})
			valueExpr[p.Value] = "params." + entry
		}
	}

	// Dynamic values produced by ancestors, in classification order.
	for _, p := range node.ClassifiedParameters {
		if p.Classification != dag.ClassDynamic || p.Value == "" || seenValues[p.Value] {
			continue
		}
		expr, ok := valueExpr[p.Value]
		if !ok || strings.HasPrefix(expr, plan.stepVar+".") {
			continue
		}
		seenValues[p.Value] = true
		base := camelIdent(p.Name)
		if p.Name == "" {
			base = "value"
		}
		plan.params = append(plan.params, param{tsName: localName(base), value: p.Value, kind: paramDynamic})
	}
}

// bootstrapDoc documents how to obtain a session constant at replay time.
func bootstrapDoc(p dag.ClassifiedParameter) string {
	src := p.Metadata.BootstrapSource
	if src == nil {
		return fmt.Sprintf("Session constant %q; supply a fresh value for each session.", p.Name)
	}
	switch src.Type {
	case dag.BootstrapInitialPageHTML:
		return fmt.Sprintf("Session constant %q; extract from %s with pattern %s.", p.Name, src.URL, src.Pattern)
	case dag.BootstrapInitialPageCookie:
		return fmt.Sprintf("Session constant %q; read browser cookie %q.", p.Name, src.CookieName)
	case dag.BootstrapAuthRequest:
		return fmt.Sprintf("Session constant %q; field %s of the %s response.", p.Name, src.JSONPath, src.URL)
	}
	return fmt.Sprintf("Session constant %q.", p.Name)
}

// captureName picks a stable TypeScript name for an extracted value: the
// parameter name of any consumer that binds it, else empty.
func captureName(graph *dag.Graph, part string) string {
	for _, n := range graph.AllNodes() {
		for _, p := range n.ClassifiedParameters {
			if p.Classification == dag.ClassDynamic && p.Value == part && p.Name != "" {
				return camelIdent(p.Name)
			}
		}
	}
	return ""
}

// lastPathKey returns the final object key of a dotted path.
func lastPathKey(path string) string {
	segs := strings.Split(path, ".")
	last := segs[len(segs)-1]
	if i := strings.Index(last, "["); i >= 0 {
		last = last[:i]
	}
	return last
}

// funcNameFor derives a function name from the method and URL path.
func funcNameFor(method, rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	name := strings.ToLower(method) + " " + path
	return camelIdent(name)
}
