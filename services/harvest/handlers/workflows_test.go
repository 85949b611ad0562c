// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/session"
)

func harEntry(method, url, responseBody string) string {
	return fmt.Sprintf(`{
      "startedDateTime": "2025-03-01T10:00:00.000Z",
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
    }`, method, url, len(responseBody), responseBody)
}

func writeTrace(t *testing.T, entries ...string) string {
	t.Helper()
	doc := fmt.Sprintf(`{"log":{"version":"1.2","creator":{"name":"t","version":"1"},"entries":[%s]}}`,
		strings.Join(entries, ","))
	path := filepath.Join(t.TempDir(), "trace.har")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func workflowRouter(m *session.Manager, client llm.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.POST("/v1/sessions/:id/workflows/discover", DiscoverWorkflows(m, client, logger))
	r.POST("/v1/sessions/:id/workflows/:wid/activate", ActivateWorkflow(m, logger))
	return r
}

func TestDiscoverWorkflowsAttachesGraphNodes(t *testing.T) {
	path := writeTrace(t,
		harEntry("GET", "https://svc.example.com/api/user", `{"uid":"u-42"}`),
		harEntry("POST", "https://svc.example.com/api/order/u-42", `{"ok":true}`),
	)
	m := session.NewManager(session.Config{}, nil, nil)
	defer m.Close()
	sess, err := m.CreateSession(context.Background(), session.CreateOptions{
		TracePath: path,
		Prompt:    "place an order",
	})
	require.NoError(t, err)

	mock := &llm.MockClient{
		DiscoverWorkflowsFunc: func(ctx context.Context, prompt string, urls []harparser.URLInfo) ([]llm.DiscoveredWorkflow, error) {
			return []llm.DiscoveredWorkflow{{
				ID:       "wf-order",
				Name:     "Place order",
				Category: "commerce",
				Priority: 1,
				Endpoints: []llm.WorkflowEndpoint{
					{URL: "https://svc.example.com/api/order/u-42", Method: "POST", Role: llm.RolePrimary},
					{URL: "https://svc.example.com/api/user", Method: "GET", Role: llm.RoleSupporting},
				},
			}}, nil
		},
	}
	router := workflowRouter(m, mock)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/workflows/discover", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	group, ok := sess.Workflows["wf-order"]
	require.True(t, ok, "discovered group not stored")
	require.NotEmpty(t, group.MasterNodeID, "primary endpoint must become the group master")

	// The group's emission subgraph carries its own nodes, not just
	// cookies.
	order := sess.Graph.TopologicalSortGroup("wf-order")
	assert.Contains(t, order, group.MasterNodeID)
	assert.GreaterOrEqual(t, len(order), 2, "supporting endpoint missing from the group: %v", order)

	// The new nodes are queued so the resolver can process the group.
	assert.NotZero(t, sess.Resolver.QueueLen())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/workflows/wf-order/activate", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, sess.ActiveGroup())
	assert.Equal(t, "wf-order", sess.ActiveGroup().ID)
}

func TestDiscoverWorkflowsSkipsUnknownEndpoints(t *testing.T) {
	path := writeTrace(t,
		harEntry("GET", "https://svc.example.com/api/user", `{"uid":"u-42"}`),
	)
	m := session.NewManager(session.Config{}, nil, nil)
	defer m.Close()
	sess, err := m.CreateSession(context.Background(), session.CreateOptions{
		TracePath: path,
		Prompt:    "inspect the account",
	})
	require.NoError(t, err)

	mock := &llm.MockClient{
		DiscoverWorkflowsFunc: func(ctx context.Context, prompt string, urls []harparser.URLInfo) ([]llm.DiscoveredWorkflow, error) {
			return []llm.DiscoveredWorkflow{{
				ID:   "wf-ghost",
				Name: "Hallucinated flow",
				Endpoints: []llm.WorkflowEndpoint{
					{URL: "https://svc.example.com/api/nowhere", Method: "POST", Role: llm.RolePrimary},
				},
			}}, nil
		},
	}
	router := workflowRouter(m, mock)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sess.ID+"/workflows/discover", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	group, ok := sess.Workflows["wf-ghost"]
	require.True(t, ok)
	assert.Empty(t, group.MasterNodeID, "an endpoint missing from the trace cannot anchor a group")
}
