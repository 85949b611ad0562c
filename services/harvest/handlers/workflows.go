// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oscaromsn/harvest/services/harvest/datatypes"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
	"github.com/oscaromsn/harvest/services/harvest/llm"
	"github.com/oscaromsn/harvest/services/harvest/session"
)

// DiscoverWorkflows asks the LLM collaborator to group the trace into
// candidate workflows and stores the groups on the session.
func DiscoverWorkflows(m *session.Manager, client llm.Client, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil {
			writeError(c, logger, datatypes.NewError(datatypes.CodeNoProviderConfigured,
				"workflow discovery needs a configured LLM provider"))
			return
		}
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		discovered, err := client.DiscoverWorkflows(c.Request.Context(), sess.Prompt, sess.Trace.URLs)
		if err != nil {
			writeError(c, logger, datatypes.WrapError(datatypes.CodeInternal,
				"workflow discovery failed", err).WithSession(sess.ID))
			return
		}

		groups := make([]*session.WorkflowGroup, 0, len(discovered))
		for _, w := range discovered {
			group := &session.WorkflowGroup{
				ID:          w.ID,
				Name:        w.Name,
				Description: w.Description,
				Category:    w.Category,
				Priority:    w.Priority,
				Complexity:  w.Complexity,
			}
			attachWorkflowNodes(sess, group, w.Endpoints)
			sess.Workflows[group.ID] = group
			groups = append(groups, group)
		}
		sess.AppendLog(session.LevelInfo,
			fmt.Sprintf("discovered %d candidate workflows", len(groups)), nil)
		c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "workflows": groups})
	}
}

// attachWorkflowNodes materializes a discovered workflow in the graph:
// the primary endpoint becomes the group's master node and every other
// matched endpoint a request node, all queued for resolution. Endpoints
// with no request record in the trace are dropped.
func attachWorkflowNodes(sess *session.Session, group *session.WorkflowGroup, endpoints []llm.WorkflowEndpoint) {
	ordered := make([]llm.WorkflowEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Role == llm.RolePrimary {
			ordered = append(ordered, ep)
		}
	}
	for _, ep := range endpoints {
		if ep.Role != llm.RolePrimary {
			ordered = append(ordered, ep)
		}
	}

	for _, ep := range ordered {
		rec := findEndpointRecord(sess.Trace, ep)
		if rec == nil {
			sess.AppendLog(session.LevelWarn,
				fmt.Sprintf("workflow %s endpoint %s %s has no trace record", group.ID, ep.Method, ep.URL), nil)
			continue
		}
		if group.MasterNodeID == "" {
			id, err := sess.Graph.AddMasterNode(rec, group.ID)
			if err != nil {
				continue
			}
			group.MasterNodeID = id
			sess.Resolver.Enqueue(id)
			continue
		}
		if id, ok := sess.Graph.FindNodeByRequest(rec); ok {
			if gid, err := sess.Graph.NodeGroup(id); err == nil && gid == group.ID {
				continue
			}
		}
		id, err := sess.Graph.AddRequestNode(rec, group.ID)
		if err != nil {
			continue
		}
		sess.Resolver.Enqueue(id)
	}
}

// findEndpointRecord matches a discovered endpoint to a trace record by
// URL, and by method when the answer carries one.
func findEndpointRecord(trace *harparser.ParsedTrace, ep llm.WorkflowEndpoint) *harparser.RequestRecord {
	for _, r := range trace.Requests {
		if r.URL != ep.URL {
			continue
		}
		if ep.Method == "" || strings.EqualFold(r.Method, ep.Method) {
			return r
		}
	}
	return nil
}

// ActivateWorkflow switches the session's driven workflow group.
func ActivateWorkflow(m *session.Manager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := m.GetSession(c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}
		wid := c.Param("wid")
		if !sess.SetActiveGroup(wid) {
			writeError(c, logger, datatypes.NewError(datatypes.CodeNodeNotFound,
				fmt.Sprintf("no workflow group %q on this session", wid)).WithSession(sess.ID))
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": sess.ID, "activeWorkflowId": wid})
	}
}
