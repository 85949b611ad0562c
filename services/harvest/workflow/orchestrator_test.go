// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscaromsn/harvest/services/harvest/cache"
	"github.com/oscaromsn/harvest/services/harvest/resolver"
	"github.com/oscaromsn/harvest/services/harvest/session"
	"github.com/oscaromsn/harvest/services/harvest/telemetry"
)

func harEntry(method, url, started, responseBody string) string {
	return fmt.Sprintf(`{
      "startedDateTime": %q,
      "time": 10,
      "request": {
        "method": %q, "url": %q, "httpVersion": "HTTP/1.1",
        "headers": [{"name": "Accept", "value": "application/json"}],
        "queryString": []
      },
      "response": {
        "status": 200, "statusText": "OK", "httpVersion": "HTTP/1.1",
        "headers": [{"name": "Content-Type", "value": "application/json"}],
        "content": {"size": %d, "mimeType": "application/json", "text": %q}
      },
      "cache": {},
      "timings": {"send": 1, "wait": 8, "receive": 1}
    }`, started, method, url, len(responseBody), responseBody)
}

func writeTrace(t *testing.T, entries ...string) string {
	t.Helper()
	doc := fmt.Sprintf(`{"log":{"version":"1.2","creator":{"name":"t","version":"1"},"entries":[%s]}}`,
		strings.Join(entries, ","))
	path := filepath.Join(t.TempDir(), "trace.har")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func newOrchestrator(t *testing.T, store *cache.Cache) *Orchestrator {
	t.Helper()
	m := session.NewManager(session.Config{}, nil, nil)
	t.Cleanup(m.Close)
	return New(Options{Manager: m, Cache: store, Metrics: telemetry.NewMetrics()})
}

func TestRunEmitsScript(t *testing.T) {
	path := writeTrace(t,
		harEntry("GET", "https://svc.example.com/api/user", "2025-03-01T10:00:00.000Z", `{"uid":"u-42"}`),
		harEntry("POST", "https://svc.example.com/api/order/u-42", "2025-03-01T10:00:05.000Z", `{"ok":true}`),
	)
	store, err := cache.New(cache.Options{Root: t.TempDir(), InMemoryIndex: true})
	require.NoError(t, err)
	defer store.Close()

	o := newOrchestrator(t, store)
	result, err := o.Run(context.Background(), RunRequest{
		TracePath: path,
		Prompt:    "place an order",
	})
	require.NoError(t, err)

	assert.True(t, result.Complete)
	assert.Equal(t, resolver.OutcomeComplete, result.LastOutcome)
	assert.Equal(t, "https://svc.example.com/api/order/u-42", result.ActionURL)
	assert.Nil(t, result.Diagnosis)

	// The producer request runs first and feeds the master.
	assert.Contains(t, result.Script, "async function getApiUser")
	assert.Contains(t, result.Script, "export async function main")
	assert.Contains(t, result.Script, "return r2.body;")

	// Completion hands the session to the cache.
	meta, err := store.GetCachedMetadata(result.SessionID)
	require.NoError(t, err)
	assert.True(t, meta.CodeGenerated)
	script, err := store.GetCachedArtifact(result.SessionID, cache.ArtifactScript)
	require.NoError(t, err)
	assert.Equal(t, result.Script, string(script))
}

func TestRunReportsStalledAnalysis(t *testing.T) {
	// The path carries a dynamic-looking id nothing in the trace produces.
	path := writeTrace(t,
		harEntry("POST", "https://svc.example.com/api/submit/zzz9f8e7", "2025-03-01T10:00:00.000Z", `{"ok":true}`),
	)
	o := newOrchestrator(t, nil)
	result, err := o.Run(context.Background(), RunRequest{
		TracePath: path,
		Prompt:    "submit the form",
	})
	require.NoError(t, err)

	assert.False(t, result.Complete)
	assert.Empty(t, result.Script)
	assert.Equal(t, resolver.OutcomeBlockedOnDependencies, result.LastOutcome)
	require.NotNil(t, result.Diagnosis)
	assert.False(t, result.Diagnosis.IsComplete)
	assert.NotEmpty(t, result.Diagnosis.Blockers)
	assert.NotEmpty(t, result.SessionID)
}

func TestRunRejectsUnreadableTrace(t *testing.T) {
	o := newOrchestrator(t, nil)
	_, err := o.Run(context.Background(), RunRequest{
		TracePath: filepath.Join(t.TempDir(), "absent.har"),
		Prompt:    "anything",
	})
	require.Error(t, err)
}

func TestClampIterations(t *testing.T) {
	assert.Equal(t, DefaultMaxIterations, clampIterations(0))
	assert.Equal(t, IterationFloor, clampIterations(-3))
	assert.Equal(t, IterationCeiling, clampIterations(400))
	assert.Equal(t, 7, clampIterations(7))
}
