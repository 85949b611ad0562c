// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bootstrap

import (
	"regexp"
	"testing"

	"github.com/oscaromsn/harvest/services/harvest/auth"
	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

func htmlTrace(body string) *harparser.ParsedTrace {
	return &harparser.ParsedTrace{
		Requests: []*harparser.RequestRecord{
			{
				Method: "GET",
				URL:    "https://app.example.com/",
				Response: &harparser.ResponseRecord{
					Status:   200,
					MimeType: "text/html",
					Body:     body,
				},
			},
		},
	}
}

func TestFindInInitialHTML(t *testing.T) {
	body := `<html><head><meta name="csrf-token" content="csrf_9f8e7d6c"></head></html>`
	f := NewFinder(htmlTrace(body), nil, nil)

	a := f.FindSources([]string{"csrf_9f8e7d6c"})
	if !a.Complete() {
		t.Fatalf("unresolved: %v", a.Unresolved)
	}
	src := a.Sources["csrf_9f8e7d6c"]
	if src.Type != dag.BootstrapInitialPageHTML || src.URL != "https://app.example.com/" {
		t.Errorf("wrong source: %+v", src)
	}

	// The anchored pattern must re-extract the value from the page.
	re, err := regexp.Compile(src.Pattern)
	if err != nil {
		t.Fatalf("pattern does not compile: %v", err)
	}
	m := re.FindStringSubmatch(body)
	if len(m) != 2 || m[1] != "csrf_9f8e7d6c" {
		t.Errorf("pattern extracted %v", m)
	}
}

func TestFindInCookies(t *testing.T) {
	cookies := harparser.CookieSnapshot{
		"sid":   {Value: "sid_value_123456"},
		"theme": {Value: "dark"},
	}
	f := NewFinder(nil, cookies, nil)

	a := f.FindSources([]string{"sid_value_123456"})
	src, ok := a.Sources["sid_value_123456"]
	if !ok || src.Type != dag.BootstrapInitialPageCookie || src.CookieName != "sid" {
		t.Errorf("cookie source wrong: %+v", src)
	}

	// Substring match requires a long part; short values must not match
	// inside longer cookies.
	a = f.FindSources([]string{"dark"})
	if src := a.Sources["dark"]; src.CookieName != "theme" {
		t.Errorf("exact value match expected: %+v", src)
	}
}

func TestFindInAuthResponse(t *testing.T) {
	trace := &harparser.ParsedTrace{
		Requests: []*harparser.RequestRecord{
			{
				Method: "POST",
				URL:    "https://app.example.com/auth/login",
				Response: &harparser.ResponseRecord{
					Status:   200,
					MimeType: "application/json",
					Body:     `{"data":{"accessToken":"tok_abc123xyz"}}`,
					JSON: map[string]any{
						"data": map[string]any{"accessToken": "tok_abc123xyz"},
					},
				},
			},
		},
	}
	authAnalysis := &auth.Analysis{
		Endpoints: []auth.Endpoint{
			{URL: "https://app.example.com/auth/login", Method: "POST", Purpose: auth.PurposeLogin},
		},
	}
	f := NewFinder(trace, nil, authAnalysis)

	a := f.FindSources([]string{"tok_abc123xyz"})
	src, ok := a.Sources["tok_abc123xyz"]
	if !ok || src.Type != dag.BootstrapAuthRequest {
		t.Fatalf("auth source missing: %+v", a)
	}
	if src.JSONPath != "data.accessToken" {
		t.Errorf("jsonPath = %q", src.JSONPath)
	}
}

func TestHTMLWinsOverCookie(t *testing.T) {
	body := `<input type="hidden" value="shared_token_01">`
	cookies := harparser.CookieSnapshot{"dup": {Value: "shared_token_01"}}
	f := NewFinder(htmlTrace(body), cookies, nil)

	a := f.FindSources([]string{"shared_token_01"})
	if a.Sources["shared_token_01"].Type != dag.BootstrapInitialPageHTML {
		t.Errorf("html should take priority: %+v", a.Sources)
	}
}

func TestUnresolvedFallsThrough(t *testing.T) {
	f := NewFinder(htmlTrace("<html>nothing here</html>"), nil, nil)
	a := f.FindSources([]string{"ghost_value_404", ""})
	if a.Complete() {
		t.Error("missing part should mark analysis incomplete")
	}
	if len(a.Unresolved) != 1 || a.Unresolved[0] != "ghost_value_404" {
		t.Errorf("unresolved = %v", a.Unresolved)
	}
	if len(a.Sources) != 0 {
		t.Errorf("no sources expected, got %v", a.Sources)
	}
}
