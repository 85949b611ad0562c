// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"fmt"

	"github.com/oscaromsn/harvest/services/harvest/dag"
)

// Diagnostics is the full readiness picture of one session. It is the
// single source of truth every downstream tool consults.
type Diagnostics struct {
	HasMasterNode              bool     `json:"hasMasterNode"`
	HasActionURL               bool     `json:"hasActionUrl"`
	DAGComplete                bool     `json:"dagComplete"`
	QueueEmpty                 bool     `json:"queueEmpty"`
	TotalNodes                 int      `json:"totalNodes"`
	UnresolvedNodes            int      `json:"unresolvedNodes"`
	PendingInQueue             int      `json:"pendingInQueue"`
	AuthAnalysisComplete       bool     `json:"authAnalysisComplete"`
	AuthReadiness              bool     `json:"authReadiness"`
	AuthErrors                 int      `json:"authErrors"`
	AllNodesClassified         bool     `json:"allNodesClassified"`
	NodesNeedingClassification []string `json:"nodesNeedingClassification,omitempty"`
	BootstrapAnalysisComplete  bool     `json:"bootstrapAnalysisComplete"`
	SessionConstantsCount      int      `json:"sessionConstantsCount"`
	UnresolvedSessionConstants int      `json:"unresolvedSessionConstants"`
}

// CompletionAnalysis is the record analyze-completion-state returns.
type CompletionAnalysis struct {
	IsComplete      bool        `json:"isComplete"`
	Blockers        []string    `json:"blockers,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
	Diagnostics     Diagnostics `json:"diagnostics"`
}

// SyncCompletionState recomputes is-complete from the DAG and queue and
// updates the session flag.
func (m *Manager) SyncCompletionState(id string) error {
	sess, err := m.GetSession(id)
	if err != nil {
		return err
	}
	complete := sess.Graph.IsComplete() && sess.Resolver.QueueLen() == 0 && sess.MasterNodeID != ""
	sess.mu.Lock()
	sess.IsComplete = complete
	sess.mu.Unlock()
	return nil
}

// AnalyzeCompletionState builds the full diagnostics record. The call
// is pure: it never mutates the session.
func (m *Manager) AnalyzeCompletionState(id string) (*CompletionAnalysis, error) {
	sess, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}
	return Analyze(sess), nil
}

// Analyze builds the diagnostics record for a session the caller already
// holds. Pure: the session is not mutated.
func Analyze(sess *Session) *CompletionAnalysis {
	graph := sess.Graph
	unresolved := graph.UnresolvedNodes()

	var needClassification []string
	sessionConstants := 0
	unresolvedConstants := 0
	for _, n := range graph.AllNodes() {
		if n.IsRequest() && len(n.ClassifiedParameters) == 0 && len(n.DynamicParts) > 0 {
			needClassification = append(needClassification, n.ID)
		}
		for _, p := range n.ClassifiedParameters {
			if p.Classification == dag.ClassSessionConstant {
				sessionConstants++
				if p.Metadata.RequiresBootstrap && p.Metadata.BootstrapSource == nil {
					unresolvedConstants++
				}
			}
		}
	}

	sess.mu.Lock()
	masterID := sess.MasterNodeID
	actionURL := sess.ActionURL
	authAnalysis := sess.Auth
	bootstrapAnalysis := sess.Bootstrap
	sess.mu.Unlock()

	d := Diagnostics{
		HasMasterNode:              masterID != "",
		HasActionURL:               actionURL != "",
		DAGComplete:                graph.IsComplete(),
		QueueEmpty:                 sess.Resolver.QueueLen() == 0,
		TotalNodes:                 graph.NodeCount(),
		UnresolvedNodes:            len(unresolved),
		PendingInQueue:             sess.Resolver.QueueLen(),
		AuthAnalysisComplete:       authAnalysis != nil,
		AllNodesClassified:         len(needClassification) == 0,
		NodesNeedingClassification: needClassification,
		BootstrapAnalysisComplete:  bootstrapAnalysis == nil || bootstrapAnalysis.Complete(),
		SessionConstantsCount:      sessionConstants,
		UnresolvedSessionConstants: unresolvedConstants,
	}
	if authAnalysis != nil {
		d.AuthReadiness = authAnalysis.Readiness.Ready
		d.AuthErrors = authAnalysis.FailureCount()
	}

	analysis := &CompletionAnalysis{Diagnostics: d}
	analysis.IsComplete = d.HasMasterNode && d.DAGComplete && d.QueueEmpty

	if !d.HasMasterNode {
		analysis.Blockers = append(analysis.Blockers, "no master node selected")
		analysis.Recommendations = append(analysis.Recommendations, "identify the action URL to create the master node")
	}
	for _, u := range unresolved {
		for _, part := range u.Parts {
			analysis.Blockers = append(analysis.Blockers,
				fmt.Sprintf("node %s has unresolved part %q", u.NodeID, part))
		}
	}
	if len(unresolved) > 0 {
		analysis.Recommendations = append(analysis.Recommendations,
			"supply the unresolved values as input variables, or provide a cookie snapshot that produces them")
	}
	if !d.QueueEmpty {
		analysis.Blockers = append(analysis.Blockers,
			fmt.Sprintf("%d nodes still queued for processing", d.PendingInQueue))
		analysis.Recommendations = append(analysis.Recommendations, "run more resolver iterations")
	}
	if authAnalysis != nil && !authAnalysis.Readiness.Ready {
		analysis.Blockers = append(analysis.Blockers, authAnalysis.Readiness.MissingPieces...)
		analysis.Recommendations = append(analysis.Recommendations, authAnalysis.Recommendations...)
	}
	return analysis
}
