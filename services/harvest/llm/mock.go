// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// MockClient is a scriptable Client for tests. Unset hooks answer with
// zero values and no error.
type MockClient struct {
	IdentifyURLFunc            func(ctx context.Context, prompt string, candidates []harparser.URLInfo) (string, error)
	IdentifyDynamicPartsFunc   func(ctx context.Context, request string, inputVariables map[string]string) ([]string, error)
	IdentifyInputVariablesFunc func(ctx context.Context, request string, inputVariables map[string]string, dynamicParts []string) (*InputVariableResult, error)
	DiscoverWorkflowsFunc      func(ctx context.Context, prompt string, urls []harparser.URLInfo) ([]DiscoveredWorkflow, error)

	Calls []string
}

func (m *MockClient) IdentifyURL(ctx context.Context, prompt string, candidates []harparser.URLInfo) (string, error) {
	m.Calls = append(m.Calls, "identify-url")
	if m.IdentifyURLFunc != nil {
		return m.IdentifyURLFunc(ctx, prompt, candidates)
	}
	if len(candidates) > 0 {
		return candidates[0].URL, nil
	}
	return "", nil
}

func (m *MockClient) IdentifyDynamicParts(ctx context.Context, request string, inputVariables map[string]string) ([]string, error) {
	m.Calls = append(m.Calls, "identify-dynamic-parts")
	if m.IdentifyDynamicPartsFunc != nil {
		return m.IdentifyDynamicPartsFunc(ctx, request, inputVariables)
	}
	return nil, nil
}

func (m *MockClient) IdentifyInputVariables(ctx context.Context, request string, inputVariables map[string]string, dynamicParts []string) (*InputVariableResult, error) {
	m.Calls = append(m.Calls, "identify-input-variables")
	if m.IdentifyInputVariablesFunc != nil {
		return m.IdentifyInputVariablesFunc(ctx, request, inputVariables, dynamicParts)
	}
	return &InputVariableResult{}, nil
}

func (m *MockClient) DiscoverWorkflows(ctx context.Context, prompt string, urls []harparser.URLInfo) ([]DiscoveredWorkflow, error) {
	m.Calls = append(m.Calls, "discover-workflows")
	if m.DiscoverWorkflowsFunc != nil {
		return m.DiscoverWorkflowsFunc(ctx, prompt, urls)
	}
	return nil, nil
}
