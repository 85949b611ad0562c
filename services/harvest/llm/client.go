// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm defines the collaborator interface the resolver and the
// orchestrator call for URL selection, dynamic-part detection, input
// variable matching and workflow discovery. Every call has a fixed
// structured answer schema so heuristic fallbacks can produce the same
// shapes when no provider is configured.
package llm

import (
	"context"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// EndpointRole positions an endpoint inside a discovered workflow.
type EndpointRole string

const (
	RolePrimary    EndpointRole = "primary"
	RoleSecondary  EndpointRole = "secondary"
	RoleSupporting EndpointRole = "supporting"
)

// WorkflowEndpoint is one endpoint of a discovered workflow.
type WorkflowEndpoint struct {
	URL    string       `json:"url"`
	Method string       `json:"method"`
	Role   EndpointRole `json:"role"`
}

// DiscoveredWorkflow is one coherent user intent found in a trace.
type DiscoveredWorkflow struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Description       string             `json:"description"`
	Category          string             `json:"category"`
	Priority          int                `json:"priority"`
	Complexity        string             `json:"complexity"`
	RequiresUserInput bool               `json:"requires_user_input"`
	Endpoints         []WorkflowEndpoint `json:"endpoints"`
}

// IdentifiedVariable is one (name, value) pair matched in a request.
type IdentifiedVariable struct {
	VariableName  string `json:"variable_name"`
	VariableValue string `json:"variable_value"`
}

// InputVariableResult is the answer of IdentifyInputVariables. Removed
// lists the dynamic parts consumed by the identified variables.
type InputVariableResult struct {
	Identified []IdentifiedVariable `json:"identified_variables"`
	Removed    []string             `json:"removed_dynamic_parts"`
}

// Client is the collaborator contract. All calls block until the
// provider answers or ctx expires.
type Client interface {
	// IdentifyURL selects the action URL for the prompt from the
	// candidate list. The answer is always one of the candidates.
	IdentifyURL(ctx context.Context, prompt string, candidates []harparser.URLInfo) (string, error)

	// IdentifyDynamicParts inspects a reconstructed request and returns
	// the literal substrings that must be produced by an earlier
	// response. Values already present in inputVariables are excluded.
	IdentifyDynamicParts(ctx context.Context, request string, inputVariables map[string]string) ([]string, error)

	// IdentifyInputVariables matches user-supplied variables against a
	// request's dynamic parts.
	IdentifyInputVariables(ctx context.Context, request string, inputVariables map[string]string, dynamicParts []string) (*InputVariableResult, error)

	// DiscoverWorkflows groups the trace into named workflows.
	DiscoverWorkflows(ctx context.Context, prompt string, urls []harparser.URLInfo) ([]DiscoveredWorkflow, error)
}
