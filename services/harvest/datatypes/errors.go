// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the wire-level types of the analysis service:
// stable error codes, request and response payloads, and their
// validation rules.
package datatypes

import (
	"errors"
	"fmt"
)

// Code is a stable, user-visible error code. Codes never change once
// released; clients branch on them.
type Code string

const (
	CodeSessionNotFound        Code = "session-not-found"
	CodeNodeNotFound           Code = "node-not-found"
	CodeURLNotFoundInArchive   Code = "url-not-found-in-archive"
	CodeHARQualityInsufficient Code = "har-quality-insufficient"
	CodeMalformedArchive       Code = "malformed-archive"
	CodeEmptyArchive           Code = "empty-archive"
	CodeCircularDependencies   Code = "circular-dependencies"
	CodeNoProviderConfigured   Code = "no-provider-configured"
	CodeAnalysisIncomplete     Code = "analysis-incomplete"
	CodeCodeGenerationFailed   Code = "code-generation-failed"
	CodeCapacityExceeded       Code = "capacity-exceeded"
	CodeCancelled              Code = "cancelled"
	CodeTimeout                Code = "timeout"
	CodeCacheMiss              Code = "cache-miss"
	CodeCacheWriteFailed       Code = "cache-write-failed"
	CodeInvalidRequest         Code = "invalid-request"
	CodeInternal               Code = "internal"
)

// AnalysisError is the one error type that crosses component
// boundaries. It carries the code, a one-sentence explanation, the
// current blockers, and at least one actionable recommendation.
type AnalysisError struct {
	Code            Code           `json:"code"`
	Message         string         `json:"message"`
	SessionID       string         `json:"sessionId,omitempty"`
	Blockers        []string       `json:"blockers,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	Err             error          `json:"-"`
}

func (e *AnalysisError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session %s): %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// NewError builds an AnalysisError with a code and message.
func NewError(code Code, message string) *AnalysisError {
	return &AnalysisError{Code: code, Message: message}
}

// WrapError attaches a code and message to an underlying error.
func WrapError(code Code, message string, err error) *AnalysisError {
	return &AnalysisError{Code: code, Message: message, Err: err}
}

// WithSession returns a copy carrying the session id.
func (e *AnalysisError) WithSession(id string) *AnalysisError {
	clone := *e
	clone.SessionID = id
	return &clone
}

// WithBlockers returns a copy carrying blockers and recommendations.
func (e *AnalysisError) WithBlockers(blockers, recommendations []string) *AnalysisError {
	clone := *e
	clone.Blockers = blockers
	clone.Recommendations = recommendations
	return &clone
}

// CodeOf extracts the stable code from any error, defaulting to
// CodeInternal.
func CodeOf(err error) Code {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
