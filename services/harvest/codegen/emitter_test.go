// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package codegen

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/resolver"
	"github.com/oscaromsn/harvest/services/harvest/session"
)

func record(t *testing.T, method, url, body, responseBody string, at time.Time) *harparser.RequestRecord {
	t.Helper()
	rec := &harparser.RequestRecord{
		Method:    method,
		URL:       url,
		Headers:   map[string]string{"Accept": "application/json"},
		Body:      body,
		Timestamp: at,
	}
	if body != "" {
		var parsed any
		if err := json.Unmarshal([]byte(body), &parsed); err == nil {
			rec.BodyJSON = parsed
		}
	}
	if responseBody != "" {
		resp := &harparser.ResponseRecord{
			Status:   200,
			MimeType: "application/json",
			Body:     responseBody,
		}
		var parsed any
		if err := json.Unmarshal([]byte(responseBody), &parsed); err == nil {
			resp.JSON = parsed
		}
		rec.Response = resp
	}
	return rec
}

func newSession(t *testing.T, graph *dag.Graph, trace *harparser.ParsedTrace, masterID string) *session.Session {
	t.Helper()
	return &session.Session{
		ID:           "sess-test",
		Prompt:       "perform the action",
		Trace:        trace,
		Graph:        graph,
		Resolver:     resolver.New(resolver.Options{Graph: graph, Trace: trace}),
		MasterNodeID: masterID,
		ActionURL:    "set",
	}
}

func TestGenerateSingleRequestScript(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	master := record(t, "POST", "https://svc/api/search?q=foo",
		`{"q":"foo","ctx":"AB7"}`, `{"items":[],"token":"ZZZ"}`, t0)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{master}}

	graph := dag.New()
	masterID, err := graph.AddMasterNode(master, "")
	require.NoError(t, err)
	require.NoError(t, graph.SetInputVariable(masterID, "q", "foo"))
	require.NoError(t, graph.UpsertClassifiedParameter(masterID, dag.ClassifiedParameter{
		Name: "ctx", Value: "AB7", Classification: dag.ClassSessionConstant,
		Metadata: dag.ParamMetadata{RequiresBootstrap: true},
	}))
	require.NoError(t, graph.AddExtractedParts(masterID, "ZZZ"))

	sess := newSession(t, graph, trace, masterID)
	script, err := New(nil).Generate(sess)
	require.NoError(t, err)

	// Exactly one user input and one session constant surface.
	start := strings.Index(script, "export interface MainParams {")
	require.GreaterOrEqual(t, start, 0)
	block := script[start:]
	block = block[:strings.Index(block, "}")]
	assert.Contains(t, block, "q: string;")
	assert.Contains(t, block, "ctx: string;")
	assert.Equal(t, 2, strings.Count(block, ": string;"), "only q and ctx belong in MainParams")

	assert.Contains(t, script, "async function postApiSearch(q: string, ctx: string)")
	assert.Contains(t, script, "const url = `https://svc/api/search?q=${q}`;")
	assert.Contains(t, script, "body: `{\"q\":\"${q}\",\"ctx\":\"${ctx}\"}`,")

	// The token is captured from the node's own response.
	assert.Contains(t, script, "const token = String(body.token);")
	assert.Contains(t, script, "return { body, token };")

	assert.Contains(t, script, "export async function main(params: MainParams): Promise<PostApiSearchResponse>")
	assert.Contains(t, script, "const r1 = await postApiSearch(params.q, params.ctx);")
	assert.Contains(t, script, "return r1.body;")

	// Types for the observed bodies.
	assert.Contains(t, script, "export interface PostApiSearchRequest {")
	assert.Contains(t, script, "export interface PostApiSearchResponse {")
	assert.Contains(t, script, "token: string;")
}

func TestGenerateThreadsDependencies(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	producer := record(t, "GET", "https://svc/api/user", "", `{"uid":"u-42"}`, t0)
	master := record(t, "POST", "https://svc/api/order/u-42", "", `{"ok":true}`, t0.Add(time.Second))
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{producer, master}}

	graph := dag.New()
	masterID, err := graph.AddMasterNode(master, "")
	require.NoError(t, err)
	producerID, err := graph.AddRequestNode(producer, "")
	require.NoError(t, err)
	require.NoError(t, graph.AddEdge(masterID, producerID))
	require.NoError(t, graph.AddExtractedParts(producerID, "u-42"))
	require.NoError(t, graph.UpsertClassifiedParameter(masterID, dag.ClassifiedParameter{
		Name: "uid", Value: "u-42", Classification: dag.ClassDynamic,
	}))

	sess := newSession(t, graph, trace, masterID)
	script, err := New(nil).Generate(sess)
	require.NoError(t, err)

	// Producer runs first and its capture feeds the master call.
	assert.Contains(t, script, "const r1 = await getApiUser();")
	assert.Contains(t, script, "const r2 = await postApiOrderU42(r1.uid);")
	assert.Less(t,
		strings.Index(script, "async function getApiUser"),
		strings.Index(script, "async function postApiOrderU42"))

	assert.Contains(t, script, "const uid = String(body.uid);")
	assert.Contains(t, script, "const url = `https://svc/api/order/${uid}`;")
	assert.Contains(t, script, "return r2.body;")

	// Nothing here needs user input, so no params block is emitted.
	assert.NotContains(t, script, "MainParams")
}

func TestGenerateCookieDependency(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	master := record(t, "GET", "https://svc/api/profile?sid=abc123", "", `{"name":"x"}`, t0)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{master}}

	graph := dag.New()
	masterID, err := graph.AddMasterNode(master, "")
	require.NoError(t, err)
	cookieID := graph.AddCookieNode("session_id", "abc123")
	require.NoError(t, graph.AddEdge(masterID, cookieID))
	require.NoError(t, graph.UpsertClassifiedParameter(masterID, dag.ClassifiedParameter{
		Name: "sid", Value: "abc123", Classification: dag.ClassDynamic,
	}))

	sess := newSession(t, graph, trace, masterID)
	script, err := New(nil).Generate(sess)
	require.NoError(t, err)

	assert.Contains(t, script, "Value of browser cookie \"session_id\".")
	assert.Contains(t, script, "sessionId: string;")
	assert.Contains(t, script, "const url = `https://svc/api/profile?sid=${sid}`;")
	assert.Contains(t, script, "await getApiProfile(params.sessionId);")
}

func TestGenerateTextCaptureEscapesLineBreaks(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	producer := record(t, "GET", "https://svc/api/bootstrap", "",
		"token:\nZZZTOK99ABC", t0)
	master := record(t, "POST", "https://svc/api/submit/ZZZTOK99ABC", "", `{"ok":true}`, t0.Add(time.Second))
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{producer, master}}

	graph := dag.New()
	masterID, err := graph.AddMasterNode(master, "")
	require.NoError(t, err)
	producerID, err := graph.AddRequestNode(producer, "")
	require.NoError(t, err)
	require.NoError(t, graph.AddEdge(masterID, producerID))
	require.NoError(t, graph.AddExtractedParts(producerID, "ZZZTOK99ABC"))
	require.NoError(t, graph.UpsertClassifiedParameter(masterID, dag.ClassifiedParameter{
		Name: "token", Value: "ZZZTOK99ABC", Classification: dag.ClassDynamic,
	}))

	sess := newSession(t, graph, trace, masterID)
	script, err := New(nil).Generate(sess)
	require.NoError(t, err)

	// The anchor spans a line break in the textual body. The regex
	// literal must carry it as an escape, never as a raw newline that
	// would split the literal across source lines.
	assert.Contains(t, script, `const tokenMatch = body.match(/token:\n([A-Za-z0-9_\-\.=\/+]+)/);`)
	assert.NotContains(t, script, "match(/token:\n")
	assert.Contains(t, script, "const url = `https://svc/api/submit/${token}`;")
}

func TestGenerateIsDeterministic(t *testing.T) {
	build := func() *session.Session {
		t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		master := record(t, "POST", "https://svc/api/search?q=foo",
			`{"q":"foo","ctx":"AB7"}`, `{"token":"ZZZ"}`, t0)
		trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{master}}
		graph := dag.New()
		masterID, err := graph.AddMasterNode(master, "")
		require.NoError(t, err)
		require.NoError(t, graph.SetInputVariable(masterID, "q", "foo"))
		require.NoError(t, graph.AddExtractedParts(masterID, "ZZZ"))
		return newSession(t, graph, trace, masterID)
	}

	first, err := New(nil).Generate(build())
	require.NoError(t, err)
	second, err := New(nil).Generate(build())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateRefusesIncompleteSession(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	master := record(t, "POST", "https://svc/api/order", "", `{"ok":true}`, t0)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{master}}

	graph := dag.New()
	masterID, err := graph.AddMasterNode(master, "")
	require.NoError(t, err)
	graph.AddNotFoundNode("ghost_token", "")

	sess := newSession(t, graph, trace, masterID)
	script, err := New(nil).Generate(sess)
	require.Error(t, err)
	assert.Empty(t, script)
	assert.Equal(t, datatypes.CodeAnalysisIncomplete, datatypes.CodeOf(err))

	var analysisErr *datatypes.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.NotEmpty(t, analysisErr.Blockers)
	assert.Contains(t, analysisErr.Details, "diagnostics")
}
