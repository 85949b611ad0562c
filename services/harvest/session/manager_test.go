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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscaromsn/harvest/services/harvest/datatypes"
)

const harTemplate = `{
  "log": {
    "version": "1.2",
    "creator": {"name": "test", "version": "1.0"},
    "entries": [%s]
  }
}`

func apiEntry(method, url, responseBody string) string {
	return fmt.Sprintf(`{
      "startedDateTime": "2025-03-01T10:00:00.000Z",
      "time": 12,
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
      "timings": {"send": 1, "wait": 10, "receive": 1}
    }`, method, url, len(responseBody), responseBody)
}

func writeHAR(t *testing.T, entries ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.har")
	content := fmt.Sprintf(harTemplate, strings.Join(entries, ","))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func apiTracePath(t *testing.T) string {
	t.Helper()
	return writeHAR(t,
		apiEntry("GET", "https://svc.example.com/api/user", `{"uid":"u-42"}`),
		apiEntry("POST", "https://svc.example.com/api/order", `{"ok":true}`),
	)
}

func TestCreateGetListDelete(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	defer m.Close()

	sess, err := m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t),
		Prompt:    "place an order",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.NotNil(t, sess.Resolver)
	assert.NotNil(t, sess.Auth)

	got, err := m.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	list := m.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].SessionID)
	assert.Equal(t, "place an order", list[0].Prompt)

	require.NoError(t, m.DeleteSession(sess.ID))
	_, err = m.GetSession(sess.ID)
	assert.Equal(t, datatypes.CodeSessionNotFound, datatypes.CodeOf(err))
}

func TestCreateRejectsEmptyGrade(t *testing.T) {
	m := NewManager(Config{MaxSessions: 1}, nil, nil)
	defer m.Close()

	// Only a static image: everything is filtered, grade is empty.
	path := writeHAR(t, apiEntry("GET", "https://cdn.example.com/logo.png", ""))
	_, err := m.CreateSession(context.Background(), CreateOptions{TracePath: path, Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, datatypes.CodeHARQualityInsufficient, datatypes.CodeOf(err))

	// The rejected attempt must not leak the single capacity slot.
	_, err = m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "x",
	})
	assert.NoError(t, err)
}

func TestCreateRejectsMissingFile(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	defer m.Close()
	_, err := m.CreateSession(context.Background(), CreateOptions{
		TracePath: filepath.Join(t.TempDir(), "absent.har"), Prompt: "x",
	})
	require.Error(t, err)
}

func TestCapacityExceeded(t *testing.T) {
	m := NewManager(Config{MaxSessions: 1}, nil, nil)
	defer m.Close()

	first, err := m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "one",
	})
	require.NoError(t, err)

	_, err = m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "two",
	})
	require.Error(t, err)
	assert.Equal(t, datatypes.CodeCapacityExceeded, datatypes.CodeOf(err))

	require.NoError(t, m.DeleteSession(first.ID))
	_, err = m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "three",
	})
	assert.NoError(t, err)
}

func TestAddLogAndFormat(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	defer m.Close()
	sess, err := m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "x",
	})
	require.NoError(t, err)

	require.NoError(t, m.AddLog(sess.ID, LevelWarn, "heuristic fallback engaged", nil))
	var notFound *datatypes.AnalysisError
	err = m.AddLog("ghost", LevelInfo, "x", nil)
	require.True(t, errors.As(err, &notFound))

	text := sess.FormatLog()
	assert.Contains(t, text, "WARN: heuristic fallback engaged")
	// Every line follows [timestamp] LEVEL: message.
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}T.*\] (DEBUG|INFO|WARN|ERROR): `, line)
	}
}

func TestSyncAndAnalyzeCompletionState(t *testing.T) {
	m := NewManager(Config{}, nil, nil)
	defer m.Close()
	sess, err := m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "order",
	})
	require.NoError(t, err)

	// No master yet: incomplete with a blocker.
	analysis, err := m.AnalyzeCompletionState(sess.ID)
	require.NoError(t, err)
	assert.False(t, analysis.IsComplete)
	assert.False(t, analysis.Diagnostics.HasMasterNode)
	assert.NotEmpty(t, analysis.Blockers)

	// Select the POST as master; the empty queue and complete DAG make
	// the session complete.
	masterID, err := sess.Graph.AddMasterNode(sess.Trace.Requests[1], "")
	require.NoError(t, err)
	sess.MasterNodeID = masterID
	sess.ActionURL = sess.Trace.Requests[1].URL

	require.NoError(t, m.SyncCompletionState(sess.ID))
	assert.True(t, sess.IsComplete)

	analysis, err = m.AnalyzeCompletionState(sess.ID)
	require.NoError(t, err)
	assert.True(t, analysis.IsComplete)
	assert.Empty(t, analysis.Blockers)

	// Purity: repeated analysis with no mutation returns equal records.
	again, err := m.AnalyzeCompletionState(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, analysis, again)

	// A not-found node flips completeness and surfaces as a blocker.
	sess.Graph.AddNotFoundNode("ghost_token_99", "")
	require.NoError(t, m.SyncCompletionState(sess.ID))
	assert.False(t, sess.IsComplete)
	analysis, err = m.AnalyzeCompletionState(sess.ID)
	require.NoError(t, err)
	assert.False(t, analysis.IsComplete)
	assert.NotEmpty(t, analysis.Blockers)
	found := false
	for _, b := range analysis.Blockers {
		if strings.Contains(b, "ghost_token_99") {
			found = true
		}
	}
	assert.True(t, found, "blockers should name the missing value: %v", analysis.Blockers)
}

func TestClearAllSessions(t *testing.T) {
	m := NewManager(Config{MaxSessions: 2}, nil, nil)
	defer m.Close()
	for i := 0; i < 2; i++ {
		_, err := m.CreateSession(context.Background(), CreateOptions{
			TracePath: apiTracePath(t), Prompt: "x",
		})
		require.NoError(t, err)
	}
	m.ClearAllSessions()
	assert.Empty(t, m.ListSessions())

	// Slots are released.
	_, err := m.CreateSession(context.Background(), CreateOptions{
		TracePath: apiTracePath(t), Prompt: "x",
	})
	assert.NoError(t, err)
}
