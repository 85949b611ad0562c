// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/llm"
)

func record(method, rawURL string, at time.Time) *harparser.RequestRecord {
	return &harparser.RequestRecord{
		Method:    method,
		URL:       rawURL,
		Headers:   map[string]string{},
		Timestamp: at,
	}
}

func withJSONBody(r *harparser.RequestRecord, body string) *harparser.RequestRecord {
	r.Body = body
	var parsed any
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		r.BodyJSON = parsed
	}
	return r
}

func withJSONResponse(r *harparser.RequestRecord, body string) *harparser.RequestRecord {
	var parsed any
	_ = json.Unmarshal([]byte(body), &parsed)
	r.Response = &harparser.ResponseRecord{
		Status:   200,
		MimeType: "application/json",
		Body:     body,
		JSON:     parsed,
	}
	return r
}

func newResolver(t *testing.T, trace *harparser.ParsedTrace, cookies harparser.CookieSnapshot, inputs map[string]string) (*Resolver, *dag.Graph) {
	t.Helper()
	g := dag.New()
	r := New(Options{
		Graph:          g,
		Trace:          trace,
		Cookies:        cookies,
		InputVariables: inputs,
	})
	return r, g
}

// Single POST with a session-scoped body constant and a user input:
// one iteration resolves the node and extracts the response token.
func TestStepSessionConstantAndUserInput(t *testing.T) {
	master := withJSONResponse(
		withJSONBody(record("POST", "https://svc/api/search?q=foo", time.Now()), `{"q":"foo","ctx":"AB7"}`),
		`{"items":[],"token":"ZZZ"}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{master}}

	r, g := newResolver(t, trace, nil, map[string]string{"q": "foo"})
	masterID, err := g.AddMasterNode(master, "")
	if err != nil {
		t.Fatal(err)
	}
	r.Enqueue(masterID)

	res, err := r.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	node, _ := g.GetNode(masterID)
	if node.InputVariables["q"] != "foo" {
		t.Errorf("input variable not bound: %v", node.InputVariables)
	}
	var ctxParam *dag.ClassifiedParameter
	for i := range node.ClassifiedParameters {
		if node.ClassifiedParameters[i].Name == "ctx" {
			ctxParam = &node.ClassifiedParameters[i]
		}
	}
	if ctxParam == nil || ctxParam.Classification != dag.ClassSessionConstant {
		t.Errorf("ctx should be a session constant: %+v", node.ClassifiedParameters)
	}
	found := false
	for _, p := range node.ExtractedParts {
		if p == "ZZZ" {
			found = true
		}
	}
	if !found {
		t.Errorf("response token not extracted: %v", node.ExtractedParts)
	}

	res, err = r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeComplete {
		t.Errorf("expected completion, got %s (%+v)", res.Outcome, res.Unresolved)
	}
	if !g.IsComplete() {
		t.Error("graph should be complete")
	}
}

// A value produced by an earlier GET creates a producer node, an edge,
// and completion after processing both nodes.
func TestStepRequestDependency(t *testing.T) {
	t0 := time.Now()
	userGET := withJSONResponse(record("GET", "https://svc/api/user", t0), `{"uid":"u-42"}`)
	orderPOST := withJSONResponse(record("POST", "https://svc/api/order/u-42", t0.Add(time.Second)), `{"ok":true}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{userGET, orderPOST}}

	r, g := newResolver(t, trace, nil, nil)
	masterID, _ := g.AddMasterNode(orderPOST, "")
	r.Enqueue(masterID)

	res, err := r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeResolved || len(res.NewNodeIDs) != 1 {
		t.Fatalf("expected one new producer node, got %+v", res)
	}
	producerID := res.NewNodeIDs[0]

	producers := g.Successors(masterID)
	if len(producers) != 1 || producers[0] != producerID {
		t.Errorf("edge master->producer missing: %v", producers)
	}

	if res, err = r.Step(context.Background()); err != nil || res.Outcome != OutcomeResolved {
		t.Fatalf("producer step: %+v, %v", res, err)
	}
	if res, err = r.Step(context.Background()); err != nil || res.Outcome != OutcomeComplete {
		t.Fatalf("expected completion after 2 iterations: %+v, %v", res, err)
	}

	// Producers sort before consumers.
	order := g.TopologicalSort()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos[producerID] > pos[masterID] {
		t.Errorf("producer after consumer: %v", order)
	}

	prod, _ := g.GetNode(producerID)
	hasUID := false
	for _, p := range prod.ExtractedParts {
		if p == "u-42" {
			hasUID = true
		}
	}
	if !hasUID {
		t.Errorf("producer should extract u-42: %v", prod.ExtractedParts)
	}
}

// The collaborator can bind a user variable whose supplied form differs
// from the value the trace recorded. The matched part becomes a user
// input instead of going through the producer search.
func TestStepCollaboratorMatchesInputVariable(t *testing.T) {
	req := withJSONResponse(record("GET", "https://svc/api/flights/sfo94128", time.Now()), `{}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}

	mock := &llm.MockClient{
		IdentifyDynamicPartsFunc: func(ctx context.Context, request string, inputVariables map[string]string) ([]string, error) {
			return []string{"sfo94128"}, nil
		},
		IdentifyInputVariablesFunc: func(ctx context.Context, request string, inputVariables map[string]string, dynamicParts []string) (*llm.InputVariableResult, error) {
			return &llm.InputVariableResult{
				Identified: []llm.IdentifiedVariable{{VariableName: "origin", VariableValue: "sfo94128"}},
			}, nil
		},
	}
	g := dag.New()
	r := New(Options{
		Graph:          g,
		Trace:          trace,
		Client:         mock,
		InputVariables: map[string]string{"origin": "SFO"},
	})
	id, err := g.AddMasterNode(req, "")
	if err != nil {
		t.Fatal(err)
	}
	r.Enqueue(id)

	res, err := r.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %s (%+v)", res.Outcome, res)
	}

	called := false
	for _, c := range mock.Calls {
		if c == "identify-input-variables" {
			called = true
		}
	}
	if !called {
		t.Fatalf("collaborator input matching never consulted: %v", mock.Calls)
	}

	node, _ := g.GetNode(id)
	if node.InputVariables["origin"] != "sfo94128" {
		t.Errorf("matched variable not bound: %v", node.InputVariables)
	}
	var param *dag.ClassifiedParameter
	for i := range node.ClassifiedParameters {
		if node.ClassifiedParameters[i].Value == "sfo94128" {
			param = &node.ClassifiedParameters[i]
		}
	}
	if param == nil || param.Classification != dag.ClassUserInput {
		t.Errorf("matched part should be a user input: %+v", node.ClassifiedParameters)
	}

	res, err = r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeComplete {
		t.Errorf("expected completion, got %s (%+v)", res.Outcome, res.Unresolved)
	}
}

// Script assets are skipped without touching the rest of the graph.
func TestStepSkipsScriptAssets(t *testing.T) {
	js := record("GET", "https://cdn.svc/bundle.min.js", time.Now())
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{js}}

	r, g := newResolver(t, trace, nil, nil)
	id, _ := g.AddRequestNode(js, "")
	r.Enqueue(id)

	before := g.NodeCount()
	res, err := r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if g.NodeCount() != before {
		t.Error("skip must not add nodes")
	}
}

// A part carried by a snapshot cookie yields a cookie node, not a
// not-found placeholder.
func TestStepCookieDependency(t *testing.T) {
	reqWithSid := withJSONResponse(record("GET", "https://svc/api/data/abc123", time.Now()), `{}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{reqWithSid}}
	cookies := harparser.CookieSnapshot{"sid": {Value: "abc123"}}

	r, g := newResolver(t, trace, cookies, nil)
	id, _ := g.AddMasterNode(reqWithSid, "")
	r.Enqueue(id)

	res, err := r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeResolved {
		t.Fatalf("outcome = %s (%+v)", res.Outcome, res)
	}

	var cookieNode *dag.Node
	for _, n := range g.AllNodes() {
		if n.Kind == dag.KindCookie {
			cookieNode = n
		}
		if n.Kind == dag.KindNotFound {
			t.Error("no not-found node expected")
		}
	}
	if cookieNode == nil {
		t.Fatal("cookie node missing")
	}
	if len(cookieNode.ExtractedParts) != 1 || cookieNode.ExtractedParts[0] != "abc123" {
		t.Errorf("cookie extracted parts: %v", cookieNode.ExtractedParts)
	}
	if succ := g.Successors(id); len(succ) != 1 || succ[0] != cookieNode.ID {
		t.Errorf("edge request->cookie missing: %v", succ)
	}
}

// A value with no producer anywhere blocks the node behind a not-found
// placeholder and surfaces in the drained-queue report.
func TestStepUnresolvableBlocks(t *testing.T) {
	req := withJSONResponse(record("GET", "https://svc/api/thing/zz99xx88yy77", time.Now()), `{}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}

	r, g := newResolver(t, trace, nil, nil)
	id, _ := g.AddMasterNode(req, "")
	r.Enqueue(id)

	res, err := r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if len(res.DynamicParts) != 1 || res.DynamicParts[0] != "zz99xx88yy77" {
		t.Errorf("dynamic parts = %v", res.DynamicParts)
	}
	if g.IsComplete() {
		t.Error("graph must not be complete")
	}

	res, err = r.Step(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeBlockedOnDependencies || len(res.Unresolved) == 0 {
		t.Errorf("expected blocked-on-dependencies listing, got %+v", res)
	}
}

// Deadline expiry aborts before any mutation.
func TestStepHonorsContext(t *testing.T) {
	trace := &harparser.ParsedTrace{}
	r, _ := newResolver(t, trace, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Step(ctx); err == nil {
		t.Error("expected context error")
	}
}

// Token extraction walks JSON objects in sorted key order, so the same
// response always yields the same part sequence.
func TestResponseTokensOrderIsStable(t *testing.T) {
	req := withJSONResponse(record("GET", "https://svc/api/session", time.Now()),
		`{"zToken":"AAA","aToken":"BBB","nested":{"mKey":"CCC"}}`)

	want := []string{"BBB", "CCC", "AAA"}
	first := responseTokens(req)
	if len(first) != len(want) {
		t.Fatalf("tokens = %v, want %v", first, want)
	}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", first, want)
		}
	}
	for range [20]struct{}{} {
		again := responseTokens(req)
		for i := range want {
			if again[i] != first[i] {
				t.Fatalf("unstable extraction order: %v vs %v", again, first)
			}
		}
	}
}

func TestRenderRequest(t *testing.T) {
	req := record("POST", "https://svc/api/x", time.Now())
	req.Headers["Authorization"] = "Bearer tok"
	req.Body = `{"a":1}`
	out := RenderRequest(req)
	for _, want := range []string{"curl -X POST", "https://svc/api/x", "Authorization: Bearer tok", `{"a":1}`} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered request missing %q:\n%s", want, out)
		}
	}
}
