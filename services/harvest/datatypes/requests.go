// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxPromptBytes bounds the action prompt; larger prompts add nothing
// to URL selection and bloat collaborator calls.
const MaxPromptBytes = 8 * 1024

// validate is the shared validator for request payloads.
var validate = validator.New()

// StartSessionRequest starts an analysis session over an uploaded or
// referenced trace.
type StartSessionRequest struct {
	HARPath        string            `json:"harPath" binding:"required" validate:"required"`
	CookiePath     string            `json:"cookiePath,omitempty"`
	Prompt         string            `json:"prompt" binding:"required" validate:"required,max=8192"`
	InputVariables map[string]string `json:"inputVariables,omitempty"`

	// Parse options.
	ExcludeKeywords       []string `json:"excludeKeywords,omitempty"`
	IncludeAllAPIRequests bool     `json:"includeAllApiRequests,omitempty"`
	PreserveAnalytics     bool     `json:"preserveAnalytics,omitempty"`
}

// Validate checks field constraints beyond gin's binding tags.
func (r *StartSessionRequest) Validate() error {
	return validate.Struct(r)
}

// StartSessionResponse returns the new session id and the trace grade.
type StartSessionResponse struct {
	SessionID string   `json:"sessionId"`
	Grade     string   `json:"grade"`
	Warnings  []string `json:"warnings,omitempty"`
}

// StepRequest advances one session by a bounded number of resolver
// iterations.
type StepRequest struct {
	Iterations int `json:"iterations,omitempty" validate:"omitempty,min=1,max=50"`
}

func (r *StepRequest) Validate() error { return validate.Struct(r) }

// AnalyzeRequest runs the one-shot pipeline end to end.
type AnalyzeRequest struct {
	HARPath        string            `json:"harPath" binding:"required" validate:"required"`
	CookiePath     string            `json:"cookiePath,omitempty"`
	Prompt         string            `json:"prompt" binding:"required" validate:"required,max=8192"`
	InputVariables map[string]string `json:"inputVariables,omitempty"`
	MaxIterations  int               `json:"maxIterations,omitempty" validate:"omitempty,min=1,max=50"`
}

func (r *AnalyzeRequest) Validate() error { return validate.Struct(r) }

// AnalyzeResponse is the one-shot pipeline outcome: either the script
// or a structured diagnosis of why generation is not yet possible.
type AnalyzeResponse struct {
	SessionID  string         `json:"sessionId"`
	Completed  bool           `json:"completed"`
	Script     string         `json:"script,omitempty"`
	Diagnosis  *AnalysisError `json:"diagnosis,omitempty"`
	Iterations int            `json:"iterations"`
}

// SessionSummary is the list-view shape of a session.
type SessionSummary struct {
	SessionID  string `json:"sessionId"`
	Prompt     string `json:"prompt"`
	IsComplete bool   `json:"isComplete"`
	NodeCount  int    `json:"nodeCount"`
	CreatedAt  string `json:"createdAt"`
}

// ErrorResponse is the HTTP error envelope.
type ErrorResponse struct {
	Error *AnalysisError `json:"error"`
}
