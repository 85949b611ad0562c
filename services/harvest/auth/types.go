// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth classifies the authentication scheme of a parsed trace,
// extracts the tokens in play, and summarizes the auth flow for the
// resolver and the code emitter.
package auth

// Type enumerates recognized authentication schemes.
type Type string

const (
	TypeBearerToken   Type = "bearer_token"
	TypeAPIKey        Type = "api_key"
	TypeBasicAuth     Type = "basic_auth"
	TypeSessionCookie Type = "session_cookie"
	TypeOAuth         Type = "oauth"
	TypeCustomHeader  Type = "custom_header"
	TypeURLParameter  Type = "url_parameter"
	TypeNone          Type = "none"
)

// TokenLocation is where an extracted token was carried.
type TokenLocation string

const (
	LocationHeader TokenLocation = "header"
	LocationCookie TokenLocation = "cookie"
	LocationURL    TokenLocation = "url"
)

// EndpointPurpose classifies dedicated auth endpoints.
type EndpointPurpose string

const (
	PurposeLogin    EndpointPurpose = "login"
	PurposeRefresh  EndpointPurpose = "refresh"
	PurposeLogout   EndpointPurpose = "logout"
	PurposeValidate EndpointPurpose = "validate"
)

// FlowComplexity summarizes how involved the auth flow is.
type FlowComplexity string

const (
	FlowSimple   FlowComplexity = "simple"
	FlowModerate FlowComplexity = "moderate"
	FlowComplex  FlowComplexity = "complex"
)

// RequestAuthInfo is the per-request auth observation.
type RequestAuthInfo struct {
	URL           string `json:"url"`
	Method        string `json:"method"`
	Authenticated bool   `json:"authenticated"`
	Types         []Type `json:"types,omitempty"`
	Failed        bool   `json:"failed"`
	Status        int    `json:"status,omitempty"`
}

// ExtractedToken is one credential found in the trace.
type ExtractedToken struct {
	Value    string        `json:"value"`
	Type     Type          `json:"type"`
	Location TokenLocation `json:"location"`
	Name     string        `json:"name"`
}

// TokenLifecycle summarizes token stability across the trace. Rotations
// count transitions of the primary token value, including appearing and
// disappearing.
type TokenLifecycle struct {
	DistinctTokens int  `json:"distinctTokens"`
	Rotations      int  `json:"rotations"`
	HasRefresh     bool `json:"hasRefresh"`
}

// Endpoint is a dedicated auth endpoint with its purpose.
type Endpoint struct {
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	Purpose EndpointPurpose `json:"purpose"`
}

// Readiness answers whether extracted auth material suffices for code
// generation.
type Readiness struct {
	Ready         bool     `json:"ready"`
	MissingPieces []string `json:"missingPieces,omitempty"`
}

// Analysis is the full authentication summary of one trace.
type Analysis struct {
	HasAuth         bool              `json:"hasAuth"`
	PrimaryType     Type              `json:"primaryType"`
	ObservedTypes   []Type            `json:"observedTypes"`
	Requests        []RequestAuthInfo `json:"requests"`
	Tokens          []ExtractedToken  `json:"tokens"`
	Lifecycle       TokenLifecycle    `json:"lifecycle"`
	Endpoints       []Endpoint        `json:"endpoints"`
	Complexity      FlowComplexity    `json:"complexity"`
	SecurityIssues  []string          `json:"securityIssues,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Readiness       Readiness         `json:"readiness"`
}

// FailureCount returns how many requests failed with 401/403.
func (a *Analysis) FailureCount() int {
	n := 0
	for _, r := range a.Requests {
		if r.Failed {
			n++
		}
	}
	return n
}

// EndpointResponses lists the URLs of dedicated auth endpoints; the
// bootstrap finder scans their responses for session constants.
func (a *Analysis) EndpointResponses() []string {
	urls := make([]string, 0, len(a.Endpoints))
	for _, e := range a.Endpoints {
		urls = append(urls, e.URL)
	}
	return urls
}
