// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// OpenAIClient implements Client against the OpenAI chat completion
// API. A token-bucket limiter keeps resolver loops from bursting the
// provider quota.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// OpenAIOptions configures NewOpenAIClient. Zero values fall back to
// environment variables and defaults.
type OpenAIOptions struct {
	APIKey            string
	Model             string
	BaseURL           string
	RequestsPerSecond float64
}

// NewOpenAIClient builds a Client from options plus the OPENAI_API_KEY
// and OPENAI_MODEL environment. Returns ErrNoProvider when no key can
// be found so callers can degrade to heuristics.
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, ErrNoProvider
	}
	model := opts.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = openai.GPT4oMini
		slog.Warn("OPENAI_MODEL not set, defaulting", "model", model)
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	slog.Info("Initializing OpenAI collaborator", "model", model, "rps", rps)
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

const systemPrompt = "You analyze recorded browser network traffic. " +
	"Answer every question with a single JSON object matching the requested schema, no prose."

// complete runs one rate-limited chat completion and returns the raw
// answer text with any markdown fence stripped.
func (c *OpenAIClient) complete(ctx context.Context, function, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &CallError{Function: function, Err: err}
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", &CallError{Function: function, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &CallError{Function: function, Err: fmt.Errorf("no choices returned")}
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")
	return strings.TrimSpace(answer), nil
}

func (c *OpenAIClient) IdentifyURL(ctx context.Context, prompt string, candidates []harparser.URLInfo) (string, error) {
	var sb strings.Builder
	sb.WriteString("The user wants to: ")
	sb.WriteString(prompt)
	sb.WriteString("\n\nPick the single request that performs that action from this list. ")
	sb.WriteString(`Answer {"url": "<exact url from the list>"}.` + "\n\n")
	for _, u := range candidates {
		fmt.Fprintf(&sb, "- %s %s (responds %s)\n", u.Method, u.URL, u.ResponseType)
	}
	answer, err := c.complete(ctx, "identify-url", sb.String())
	if err != nil {
		return "", err
	}
	var parsed struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return "", &CallError{Function: "identify-url", Err: fmt.Errorf("%w: %v", ErrMalformedAnswer, err)}
	}
	for _, u := range candidates {
		if u.URL == parsed.URL {
			return parsed.URL, nil
		}
	}
	return "", &CallError{Function: "identify-url", Err: fmt.Errorf("%w: %q", ErrAnswerOutOfRange, parsed.URL)}
}

func (c *OpenAIClient) IdentifyDynamicParts(ctx context.Context, request string, inputVariables map[string]string) ([]string, error) {
	var sb strings.Builder
	sb.WriteString("Identify the dynamic parts of this request: literal substrings (tokens, ids, keys) ")
	sb.WriteString("whose values must come from an earlier response rather than being typed by a user. ")
	sb.WriteString(`Answer {"dynamic_parts": ["..."]}. Exclude these known user inputs:` + "\n")
	for name, value := range inputVariables {
		fmt.Fprintf(&sb, "- %s = %s\n", name, value)
	}
	sb.WriteString("\nRequest:\n")
	sb.WriteString(request)

	answer, err := c.complete(ctx, "identify-dynamic-parts", sb.String())
	if err != nil {
		return nil, err
	}
	var parsed struct {
		DynamicParts []string `json:"dynamic_parts"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, &CallError{Function: "identify-dynamic-parts", Err: fmt.Errorf("%w: %v", ErrMalformedAnswer, err)}
	}
	// Providers occasionally echo an input value back; filter here so
	// the disjointness contract holds regardless of the model.
	var parts []string
	for _, p := range parsed.DynamicParts {
		echoed := false
		for _, v := range inputVariables {
			if p == v {
				echoed = true
				break
			}
		}
		if !echoed && p != "" {
			parts = append(parts, p)
		}
	}
	return parts, nil
}

func (c *OpenAIClient) IdentifyInputVariables(ctx context.Context, request string, inputVariables map[string]string, dynamicParts []string) (*InputVariableResult, error) {
	var sb strings.Builder
	sb.WriteString("Match the user-supplied variables below against the dynamic parts of this request. ")
	sb.WriteString(`Answer {"identified_variables": [{"variable_name": "...", "variable_value": "..."}]}.` + "\n\nVariables:\n")
	for name, value := range inputVariables {
		fmt.Fprintf(&sb, "- %s = %s\n", name, value)
	}
	sb.WriteString("\nDynamic parts:\n")
	for _, p := range dynamicParts {
		fmt.Fprintf(&sb, "- %s\n", p)
	}
	sb.WriteString("\nRequest:\n")
	sb.WriteString(request)

	answer, err := c.complete(ctx, "identify-input-variables", sb.String())
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Identified []IdentifiedVariable `json:"identified_variables"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, &CallError{Function: "identify-input-variables", Err: fmt.Errorf("%w: %v", ErrMalformedAnswer, err)}
	}
	result := &InputVariableResult{Identified: parsed.Identified}
	for _, part := range dynamicParts {
		for _, v := range parsed.Identified {
			if v.VariableValue == part {
				result.Removed = append(result.Removed, part)
				break
			}
		}
	}
	return result, nil
}

func (c *OpenAIClient) DiscoverWorkflows(ctx context.Context, prompt string, urls []harparser.URLInfo) ([]DiscoveredWorkflow, error) {
	var sb strings.Builder
	sb.WriteString("Group the requests below into distinct user workflows. The user's stated goal: ")
	sb.WriteString(prompt)
	sb.WriteString("\n\nAnswer " +
		`{"workflows": [{"id": "...", "name": "...", "description": "...", "category": "...", ` +
		`"priority": 1, "complexity": "low|medium|high", "requires_user_input": false, ` +
		`"endpoints": [{"url": "...", "method": "...", "role": "primary|secondary|supporting"}]}]}.` + "\n\n")
	for _, u := range urls {
		fmt.Fprintf(&sb, "- %s %s\n", u.Method, u.URL)
	}

	answer, err := c.complete(ctx, "discover-workflows", sb.String())
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Workflows []DiscoveredWorkflow `json:"workflows"`
	}
	if err := json.Unmarshal([]byte(answer), &parsed); err != nil {
		return nil, &CallError{Function: "discover-workflows", Err: fmt.Errorf("%w: %v", ErrMalformedAnswer, err)}
	}
	return parsed.Workflows, nil
}
