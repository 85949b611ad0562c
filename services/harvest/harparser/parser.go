// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package harparser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
	"unicode"
)

// ParseOptions controls filtering during parse.
type ParseOptions struct {
	// ExcludeKeywords drops any request whose URL contains one of these
	// substrings.
	ExcludeKeywords []string

	// IncludeAllAPIRequests keeps static-asset URLs that would otherwise
	// be filtered.
	IncludeAllAPIRequests bool

	// MinQuality, when set, is recorded on the validation result's
	// recommendations when the computed grade falls below it. Gating
	// itself is the session manager's job.
	MinQuality QualityGrade

	// PreserveAnalytics keeps analytics and tracking beacons that are
	// dropped by default.
	PreserveAnalytics bool
}

// staticExtensions are asset suffixes dropped by default.
var staticExtensions = []string{
	".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".ico",
	".woff", ".woff2", ".ttf", ".svg", ".map",
}

// analyticsKeywords mark beacon traffic dropped unless PreserveAnalytics.
var analyticsKeywords = []string{
	"google-analytics", "googletagmanager", "doubleclick", "segment.io",
	"mixpanel", "hotjar", "sentry.io", "/collect?", "/telemetry",
}

// authSchemeTokens are the scheme prefixes recognized in Authorization
// header values.
var authSchemeTokens = []string{"Bearer", "Basic", "Digest", "OAuth", "ApiKey", "Token"}

// Parse decodes a HAR byte buffer into a ParsedTrace.
//
// Returns ErrMalformedArchive when the top-level structure is missing and
// ErrEmptyArchive when no entries exist. Filtering never fails the parse;
// a trace where every entry was filtered out grades as empty.
func Parse(data []byte, opts ParseOptions) (*ParsedTrace, error) {
	var har HARLog
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	if har.Log.Version == "" && len(har.Log.Entries) == 0 {
		return nil, ErrMalformedArchive
	}
	if len(har.Log.Entries) == 0 {
		return nil, ErrEmptyArchive
	}

	trace := &ParsedTrace{
		version: har.Log.Version,
		creator: har.Log.Creator,
	}

	for _, entry := range har.Log.Entries {
		if !keepEntry(entry, opts) {
			continue
		}
		trace.Requests = append(trace.Requests, normalizeEntry(entry))
	}

	trace.URLs = buildURLInfos(trace.Requests)
	trace.Validation = validate(trace, len(har.Log.Entries), opts)
	return trace, nil
}

// ParseFile reads and parses a HAR file from disk.
func ParseFile(filePath string, opts ParseOptions) (*ParsedTrace, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading archive %s: %w", filePath, err)
	}
	return Parse(data, opts)
}

// ParseCookies decodes a cookie snapshot buffer.
func ParseCookies(data []byte) (CookieSnapshot, error) {
	snapshot := CookieSnapshot{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCookieFile, err)
	}
	return snapshot, nil
}

// ParseCookieFile reads and parses a cookie snapshot from disk.
func ParseCookieFile(filePath string) (CookieSnapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading cookie file %s: %w", filePath, err)
	}
	return ParseCookies(data)
}

// keepEntry applies the filtering rules: keep JSON responses and non-GET
// methods unconditionally, drop static assets and excluded keywords.
func keepEntry(entry HAREntry, opts ParseOptions) bool {
	rawURL := entry.Request.URL
	lower := strings.ToLower(rawURL)

	for _, kw := range opts.ExcludeKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	if !opts.PreserveAnalytics {
		for _, kw := range analyticsKeywords {
			if strings.Contains(lower, kw) {
				return false
			}
		}
	}

	// JSON-like responses and non-GET methods survive extension filtering.
	if entry.Response != nil && isJSONType(entry.Response.Content.MimeType) {
		return true
	}
	if !strings.EqualFold(entry.Request.Method, "GET") {
		return true
	}
	if opts.IncludeAllAPIRequests {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, s := range staticExtensions {
		if ext == s {
			return false
		}
	}
	return true
}

// normalizeEntry converts a HAR entry into a RequestRecord, retaining the
// entry for round-trips.
func normalizeEntry(entry HAREntry) *RequestRecord {
	rec := &RequestRecord{
		Method:  entry.Request.Method,
		URL:     entry.Request.URL,
		Headers: headersToMap(entry.Request.Headers),
		entry:   entry,
	}
	if ts, err := time.Parse(time.RFC3339, entry.StartedDateTime); err == nil {
		rec.Timestamp = ts
	} else if ts, err := time.Parse("2006-01-02T15:04:05.999Z07:00", entry.StartedDateTime); err == nil {
		rec.Timestamp = ts
	}
	if entry.Request.PostData != nil {
		rec.Body = entry.Request.PostData.Text
		if isJSONType(entry.Request.PostData.MimeType) {
			var parsed any
			if json.Unmarshal([]byte(rec.Body), &parsed) == nil {
				rec.BodyJSON = parsed
			}
		}
	}
	if entry.Response != nil {
		rec.Response = normalizeResponse(entry.Response)
	}
	return rec
}

func normalizeResponse(resp *HARResponse) *ResponseRecord {
	body := resp.Content.Text
	if resp.Content.Encoding == "base64" && body != "" {
		if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
			body = string(decoded)
		}
	}
	rr := &ResponseRecord{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    headersToMap(resp.Headers),
		MimeType:   resp.Content.MimeType,
		Body:       body,
	}
	if isJSONType(rr.MimeType) && body != "" {
		var parsed any
		if json.Unmarshal([]byte(body), &parsed) == nil {
			rr.JSON = parsed
		}
	}
	return rr
}

// headersToMap keeps one value per name, last wins, original casing.
func headersToMap(headers []HARHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[h.Name] = h.Value
	}
	return m
}

func buildURLInfos(records []*RequestRecord) []URLInfo {
	infos := make([]URLInfo, 0, len(records))
	for _, r := range records {
		info := URLInfo{Method: r.Method, URL: r.URL}
		if ct := r.Header("Content-Type"); ct != "" {
			info.RequestType = classifyContentType(ct)
		}
		if r.Response != nil {
			info.ResponseType = classifyContentType(r.Response.MimeType)
		} else {
			info.ResponseType = "unknown"
		}
		infos = append(infos, info)
	}
	return infos
}

// ----------------------------------------------------------------------------
// Validation
// ----------------------------------------------------------------------------

func validate(trace *ParsedTrace, totalEntries int, opts ParseOptions) ValidationResult {
	stats := TraceStats{
		TotalEntries:    totalEntries,
		RelevantEntries: len(trace.Requests),
	}
	auth := AuthSignals{}
	schemes := map[string]bool{}

	for _, r := range trace.Requests {
		if isAPIRequest(r) {
			stats.APIRequests++
		}
		if !strings.EqualFold(r.Method, "GET") {
			stats.NonGETRequests++
		}
		if r.Response != nil && r.Response.Body != "" {
			stats.ResponsesWithBodies++
		}
		if authHeader := r.Header("Authorization"); authHeader != "" {
			stats.AuthBearingRequests++
			auth.HasAuthHeader = true
			for _, scheme := range authSchemeTokens {
				if strings.HasPrefix(authHeader, scheme+" ") || authHeader == scheme {
					schemes[scheme] = true
				}
			}
		}
		if r.Header("Cookie") != "" {
			auth.SendsCookies = true
		}
		if hasTokenShapedParam(r) {
			stats.TokenBearingRequests++
			auth.HasTokenParameter = true
		}
		if r.Response != nil && (r.Response.Status == 401 || r.Response.Status == 403) {
			stats.AuthErrors++
			auth.HasAuthErrors = true
		}
	}
	for s := range schemes {
		auth.Schemes = append(auth.Schemes, s)
	}

	result := ValidationResult{
		Stats: stats,
		Auth:  auth,
		Grade: grade(stats),
	}
	result.Issues, result.Recommendations = describe(result, opts)
	return result
}

// grade applies the fixed thresholds: empty, poor, excellent, else good.
func grade(stats TraceStats) QualityGrade {
	switch {
	case stats.RelevantEntries == 0:
		return QualityEmpty
	case stats.RelevantEntries < 5, stats.APIRequests == 0 && stats.NonGETRequests == 0:
		return QualityPoor
	case stats.RelevantEntries >= 20 && stats.APIRequests >= 5 && stats.AuthErrors == 0:
		return QualityExcellent
	default:
		return QualityGood
	}
}

func describe(result ValidationResult, opts ParseOptions) (issues, recommendations []string) {
	stats := result.Stats
	switch result.Grade {
	case QualityEmpty:
		issues = append(issues, "no relevant requests survived filtering")
		recommendations = append(recommendations,
			"re-record the session while performing the target action",
			"retry with include-all-api-requests enabled if the app serves API calls from asset-like URLs")
	case QualityPoor:
		if stats.RelevantEntries < 5 {
			issues = append(issues, fmt.Sprintf("only %d relevant requests captured", stats.RelevantEntries))
		}
		if stats.APIRequests == 0 && stats.NonGETRequests == 0 {
			issues = append(issues, "no API-like or state-changing requests found")
		}
		recommendations = append(recommendations,
			"record a longer session that exercises the target action end to end")
	}
	if stats.AuthErrors > 0 {
		issues = append(issues, fmt.Sprintf("%d authentication failures (401/403) in trace", stats.AuthErrors))
		recommendations = append(recommendations,
			"re-record with a fresh login so captured tokens are valid")
	}
	if opts.MinQuality != "" && gradeRank(result.Grade) < gradeRank(opts.MinQuality) {
		recommendations = append(recommendations,
			fmt.Sprintf("trace grade %s is below the requested minimum %s", result.Grade, opts.MinQuality))
	}
	return issues, recommendations
}

func gradeRank(g QualityGrade) int {
	switch g {
	case QualityExcellent:
		return 3
	case QualityGood:
		return 2
	case QualityPoor:
		return 1
	default:
		return 0
	}
}

func isAPIRequest(r *RequestRecord) bool {
	lower := strings.ToLower(r.URL)
	if strings.Contains(lower, "/api/") || strings.Contains(lower, "/graphql") {
		return true
	}
	return r.Response != nil && isJSONType(r.Response.MimeType)
}

// hasTokenShapedParam reports whether any query value looks like a token:
// long, high entropy, mixed character classes.
func hasTokenShapedParam(r *RequestRecord) bool {
	for _, values := range r.QueryParams() {
		for _, v := range values {
			if looksLikeToken(v) {
				return true
			}
		}
	}
	return false
}

func looksLikeToken(v string) bool {
	if len(v) < 20 {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, ch := range v {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}
	classes := 0
	for _, b := range []bool{hasUpper, hasLower, hasDigit} {
		if b {
			classes++
		}
	}
	return classes >= 2
}
