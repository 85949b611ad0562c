// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// sessionCookieNames are cookie keys treated as session credentials.
var sessionCookieNames = []string{
	"sessionid", "session_id", "session", "sid", "jsessionid",
	"phpsessid", "connect.sid", "auth", "token",
}

// apiKeyHeaders are header names treated as API key carriers.
var apiKeyHeaders = []string{"x-api-key", "api-key", "apikey", "x-auth-token"}

// Analyze runs the full authentication analysis over a parsed trace.
func Analyze(trace *harparser.ParsedTrace) *Analysis {
	analysis := &Analysis{PrimaryType: TypeNone}
	observed := map[Type]int{}
	tokenSeen := map[string]bool{}
	authValues := map[string]bool{}
	rotations := 0
	lastAuthValue := ""

	for _, req := range trace.Requests {
		info := RequestAuthInfo{URL: req.URL, Method: req.Method}
		types := detectTypes(req)

		for _, t := range types {
			observed[t]++
		}
		info.Types = types
		info.Authenticated = len(types) > 0

		if req.Response != nil {
			info.Status = req.Response.Status
			info.Failed = req.Response.Status == 401 || req.Response.Status == 403
		}
		analysis.Requests = append(analysis.Requests, info)

		for _, tok := range extractTokens(req) {
			key := string(tok.Type) + "|" + tok.Name + "|" + tok.Value
			if !tokenSeen[key] {
				tokenSeen[key] = true
				analysis.Tokens = append(analysis.Tokens, tok)
			}
		}

		// Track primary token stability the way a proxy-side analyzer
		// tracks Authorization flapping.
		authVal := req.Header("Authorization")
		if authVal != "" {
			authValues[authVal] = true
		}
		if authVal != lastAuthValue {
			if lastAuthValue != "" || authVal != "" {
				rotations++
			}
			lastAuthValue = authVal
		}

		if ep, ok := classifyEndpoint(req); ok {
			analysis.Endpoints = append(analysis.Endpoints, ep)
		}
	}

	analysis.HasAuth = len(observed) > 0
	analysis.ObservedTypes = sortedTypes(observed)
	analysis.PrimaryType = primaryType(observed)
	analysis.Lifecycle = TokenLifecycle{
		DistinctTokens: len(authValues),
		Rotations:      rotations,
		HasRefresh:     hasPurpose(analysis.Endpoints, PurposeRefresh),
	}
	analysis.Complexity = complexity(analysis)
	analysis.SecurityIssues, analysis.Recommendations = review(analysis, trace)
	analysis.Readiness = readiness(analysis)
	return analysis
}

// detectTypes returns every auth scheme a single request carries.
func detectTypes(req *harparser.RequestRecord) []Type {
	var types []Type

	if authHeader := req.Header("Authorization"); authHeader != "" {
		switch {
		case strings.HasPrefix(authHeader, "Bearer "):
			types = append(types, TypeBearerToken)
		case strings.HasPrefix(authHeader, "Basic "):
			types = append(types, TypeBasicAuth)
		default:
			types = append(types, TypeCustomHeader)
		}
	}
	for name := range req.Headers {
		lower := strings.ToLower(name)
		for _, keyHeader := range apiKeyHeaders {
			if lower == keyHeader {
				types = append(types, TypeAPIKey)
			}
		}
	}
	if cookieHeader := req.Header("Cookie"); cookieHeader != "" && hasSessionCookie(cookieHeader) {
		types = append(types, TypeSessionCookie)
	}
	if isOAuthRequest(req) {
		types = append(types, TypeOAuth)
	}
	if hasTokenParam(req) {
		types = append(types, TypeURLParameter)
	}
	return types
}

func extractTokens(req *harparser.RequestRecord) []ExtractedToken {
	var tokens []ExtractedToken

	if authHeader := req.Header("Authorization"); authHeader != "" {
		switch {
		case strings.HasPrefix(authHeader, "Bearer "):
			tokens = append(tokens, ExtractedToken{
				Value: strings.TrimPrefix(authHeader, "Bearer "), Type: TypeBearerToken,
				Location: LocationHeader, Name: "Authorization",
			})
		case strings.HasPrefix(authHeader, "Basic "):
			tokens = append(tokens, ExtractedToken{
				Value: strings.TrimPrefix(authHeader, "Basic "), Type: TypeBasicAuth,
				Location: LocationHeader, Name: "Authorization",
			})
		}
	}
	for name, value := range req.Headers {
		lower := strings.ToLower(name)
		for _, keyHeader := range apiKeyHeaders {
			if lower == keyHeader {
				tokens = append(tokens, ExtractedToken{
					Value: value, Type: TypeAPIKey, Location: LocationHeader, Name: name,
				})
			}
		}
	}
	if cookieHeader := req.Header("Cookie"); cookieHeader != "" {
		for _, pair := range strings.Split(cookieHeader, ";") {
			name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			if isSessionCookieName(name) {
				tokens = append(tokens, ExtractedToken{
					Value: value, Type: TypeSessionCookie, Location: LocationCookie, Name: name,
				})
			}
		}
	}
	for name, values := range req.QueryParams() {
		for _, v := range values {
			if tokenShaped(v) {
				tokens = append(tokens, ExtractedToken{
					Value: v, Type: TypeURLParameter, Location: LocationURL, Name: name,
				})
			}
		}
	}
	return tokens
}

func classifyEndpoint(req *harparser.RequestRecord) (Endpoint, bool) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return Endpoint{}, false
	}
	path := strings.ToLower(u.Path)
	var purpose EndpointPurpose
	switch {
	case strings.Contains(path, "refresh"):
		purpose = PurposeRefresh
	case strings.Contains(path, "logout"), strings.Contains(path, "signout"):
		purpose = PurposeLogout
	case strings.Contains(path, "login"), strings.Contains(path, "signin"),
		strings.Contains(path, "/auth"), strings.Contains(path, "/token"),
		strings.Contains(path, "/oauth"):
		purpose = PurposeLogin
	case strings.HasSuffix(path, "/validate"), strings.HasSuffix(path, "/verify"),
		strings.HasSuffix(path, "/me"), strings.HasSuffix(path, "/whoami"):
		purpose = PurposeValidate
	default:
		return Endpoint{}, false
	}
	return Endpoint{URL: req.URL, Method: req.Method, Purpose: purpose}, true
}

func complexity(a *Analysis) FlowComplexity {
	realTypes := 0
	for _, t := range a.ObservedTypes {
		if t != TypeNone {
			realTypes++
		}
	}
	switch {
	case realTypes <= 1 && !a.Lifecycle.HasRefresh:
		return FlowSimple
	case realTypes == 1 && a.Lifecycle.HasRefresh:
		return FlowModerate
	default:
		return FlowComplex
	}
}

func review(a *Analysis, trace *harparser.ParsedTrace) (issues, recommendations []string) {
	if failures := a.FailureCount(); failures > 0 {
		issues = append(issues, "trace contains authentication failures (401/403)")
		recommendations = append(recommendations, "re-record the session with valid credentials")
	}
	for _, tok := range a.Tokens {
		if tok.Location == LocationURL {
			issues = append(issues, "credential passed as URL parameter: "+tok.Name)
			recommendations = append(recommendations, "URL-borne tokens leak via logs and referrers; prefer header transport at replay time")
			break
		}
	}
	if a.Lifecycle.Rotations > 2 {
		issues = append(issues, "primary token rotated during the trace")
		recommendations = append(recommendations, "generated code must re-acquire the token per run rather than hardcoding it")
	}
	if a.HasAuth && !trace.Validation.Auth.SendsCookies && a.PrimaryType == TypeSessionCookie {
		issues = append(issues, "session-cookie auth detected but no cookie snapshot signals present")
	}
	return issues, recommendations
}

func readiness(a *Analysis) Readiness {
	if !a.HasAuth {
		return Readiness{Ready: true}
	}
	var missing []string
	if len(a.Tokens) == 0 {
		missing = append(missing, "no token values could be extracted")
	}
	if a.FailureCount() > 0 && len(a.Endpoints) == 0 {
		missing = append(missing, "auth failures observed without a login endpoint to re-authenticate against")
	}
	return Readiness{Ready: len(missing) == 0, MissingPieces: missing}
}

func primaryType(observed map[Type]int) Type {
	best := TypeNone
	bestCount := 0
	// Deterministic: iterate in a fixed precedence order.
	for _, t := range []Type{
		TypeBearerToken, TypeOAuth, TypeAPIKey, TypeSessionCookie,
		TypeBasicAuth, TypeCustomHeader, TypeURLParameter,
	} {
		if observed[t] > bestCount {
			best = t
			bestCount = observed[t]
		}
	}
	return best
}

func hasPurpose(endpoints []Endpoint, purpose EndpointPurpose) bool {
	for _, e := range endpoints {
		if e.Purpose == purpose {
			return true
		}
	}
	return false
}

func sortedTypes(observed map[Type]int) []Type {
	types := make([]Type, 0, len(observed))
	for t := range observed {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func hasSessionCookie(cookieHeader string) bool {
	for _, pair := range strings.Split(cookieHeader, ";") {
		name, _, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && isSessionCookieName(name) {
			return true
		}
	}
	return false
}

func isSessionCookieName(name string) bool {
	lower := strings.ToLower(name)
	for _, known := range sessionCookieNames {
		if lower == known || strings.Contains(lower, "session") {
			return true
		}
	}
	return false
}

func isOAuthRequest(req *harparser.RequestRecord) bool {
	lower := strings.ToLower(req.URL)
	if strings.Contains(lower, "/oauth") || strings.Contains(lower, "grant_type=") {
		return true
	}
	return strings.Contains(req.Body, "grant_type=") || strings.Contains(req.Body, `"grant_type"`)
}

func hasTokenParam(req *harparser.RequestRecord) bool {
	for name, values := range req.QueryParams() {
		lower := strings.ToLower(name)
		if lower == "token" || lower == "access_token" || lower == "api_key" || lower == "apikey" {
			return true
		}
		for _, v := range values {
			if tokenShaped(v) {
				return true
			}
		}
	}
	return false
}

// tokenShaped mirrors the parser's pre-scan heuristic: long value with
// mixed character classes.
func tokenShaped(v string) bool {
	if len(v) < 20 {
		return false
	}
	var upper, lower, digit bool
	for _, ch := range v {
		switch {
		case unicode.IsUpper(ch):
			upper = true
		case unicode.IsLower(ch):
			lower = true
		case unicode.IsDigit(ch):
			digit = true
		}
	}
	classes := 0
	for _, b := range []bool{upper, lower, digit} {
		if b {
			classes++
		}
	}
	return classes >= 2
}
