// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"testing"
	"time"
)

func TestLooksDynamic(t *testing.T) {
	dynamic := []string{
		"AB7",
		"u-42",
		"abc123",
		"tok_9f8e7d",
		"550e8400-e29b-41d4-a716-446655440000",
		"eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig",
		"deadbeefcafebabe",
		"123456789",
	}
	static := []string{
		"foo",
		"search",
		"application/json",
		"en",
		"12",
		"XMLHttpRequest",
		"OrderHistory",
	}
	for _, v := range dynamic {
		if !LooksDynamic(v) {
			t.Errorf("%q should look dynamic", v)
		}
	}
	for _, v := range static {
		if LooksDynamic(v) {
			t.Errorf("%q should not look dynamic", v)
		}
	}
}

func TestExtractCandidatesLocations(t *testing.T) {
	req := withJSONBody(
		record("POST", "https://svc/api/v2/orders/ord-7781?session=sess9912&page=1", time.Now()),
		`{"note":"hello","trace_id":"tr4ce1d99"}`)
	req.Headers["Authorization"] = "Bearer tok_abcdef123456"
	req.Headers["Cookie"] = "sid=c00k1eva1; theme=dark"
	req.Headers["User-Agent"] = "Mozilla/5.0 (X11; Linux x86_64)"
	req.Headers["Content-Type"] = "application/json"

	byValue := map[string]Candidate{}
	for _, c := range ExtractCandidates(req, map[string]string{"note": "hello"}) {
		byValue[c.Value] = c
	}

	want := map[string]string{
		"ord-7781":           "path",
		"sess9912":           "query",
		"tr4ce1d99":          "body",
		"tok_abcdef123456":   "header",
		"c00k1eva1":          "cookie",
	}
	for value, location := range want {
		c, ok := byValue[value]
		if !ok {
			t.Errorf("candidate %q missing", value)
			continue
		}
		if c.Location != location {
			t.Errorf("%q location = %s, want %s", value, c.Location, location)
		}
	}

	// Skipped: user-agent and content-type headers, supplied input
	// values, non-token path segments.
	for _, absent := range []string{"Mozilla/5.0 (X11; Linux x86_64)", "application/json", "hello", "orders"} {
		if _, ok := byValue[absent]; ok {
			t.Errorf("%q should not be a candidate", absent)
		}
	}
}

func TestExtractCandidatesFormBody(t *testing.T) {
	req := record("POST", "https://svc/api/login", time.Now())
	req.Body = "csrf=csrf9a8b7c&remember=on"
	found := false
	for _, c := range ExtractCandidates(req, nil) {
		if c.Value == "csrf9a8b7c" && c.Name == "csrf" && c.Location == "body" {
			found = true
		}
	}
	if !found {
		t.Error("form-encoded body value not extracted")
	}
}

func TestExtractCandidatesAuthorizationSchemeStripped(t *testing.T) {
	req := record("GET", "https://svc/api/x", time.Now())
	req.Headers["Authorization"] = "Bearer tok123abc"
	for _, c := range ExtractCandidates(req, nil) {
		if c.Value == "Bearer tok123abc" {
			t.Error("scheme prefix must be stripped")
		}
		if c.Value == "tok123abc" && c.Location != "header" {
			t.Errorf("token location = %s", c.Location)
		}
	}
}

func TestExtractCandidatesDeduplicates(t *testing.T) {
	req := record("GET", "https://svc/api/x?a=dup123val&b=dup123val", time.Now())
	count := 0
	for _, c := range ExtractCandidates(req, nil) {
		if c.Value == "dup123val" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("value extracted %d times, want 1", count)
	}
}
