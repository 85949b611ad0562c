// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bootstrap locates session constants that no recorded request
// produces: values embedded in the initial page HTML, carried by an
// initial cookie, or returned by a dedicated auth endpoint.
package bootstrap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oscaromsn/harvest/services/harvest/auth"
	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// contextRadius is how many characters of surrounding markup anchor an
// HTML extraction pattern.
const contextRadius = 24

// Analysis is the bootstrap summary attached to a session.
type Analysis struct {
	Sources    map[string]dag.BootstrapSource `json:"sources"`
	Unresolved []string                       `json:"unresolved,omitempty"`
}

// Complete reports whether every requested part found a source.
func (a *Analysis) Complete() bool { return len(a.Unresolved) == 0 }

// Finder scans one session's inputs for bootstrap sources.
type Finder struct {
	trace   *harparser.ParsedTrace
	cookies harparser.CookieSnapshot
	auth    *auth.Analysis
}

// NewFinder builds a finder over the session's trace, optional cookie
// snapshot and optional auth analysis.
func NewFinder(trace *harparser.ParsedTrace, cookies harparser.CookieSnapshot, authAnalysis *auth.Analysis) *Finder {
	return &Finder{trace: trace, cookies: cookies, auth: authAnalysis}
}

// FindSources resolves each part against the three source kinds in
// priority order. Parts with no source land in Unresolved; the caller
// falls through to not-found handling for those.
func (f *Finder) FindSources(parts []string) *Analysis {
	analysis := &Analysis{Sources: map[string]dag.BootstrapSource{}}
	for _, part := range parts {
		if part == "" {
			continue
		}
		if src, ok := f.findOne(part); ok {
			analysis.Sources[part] = src
		} else {
			analysis.Unresolved = append(analysis.Unresolved, part)
		}
	}
	return analysis
}

func (f *Finder) findOne(part string) (dag.BootstrapSource, bool) {
	if src, ok := f.fromInitialHTML(part); ok {
		return src, true
	}
	if src, ok := f.fromCookies(part); ok {
		return src, true
	}
	return f.fromAuthResponses(part)
}

// fromInitialHTML searches the first HTML response for the part and
// builds a regex anchored on the surrounding markup.
func (f *Finder) fromInitialHTML(part string) (dag.BootstrapSource, bool) {
	if f.trace == nil {
		return dag.BootstrapSource{}, false
	}
	page := f.trace.FirstHTMLResponse()
	if page == nil || page.Response == nil {
		return dag.BootstrapSource{}, false
	}
	body := page.Response.Body
	idx := strings.Index(body, part)
	if idx < 0 {
		return dag.BootstrapSource{}, false
	}
	return dag.BootstrapSource{
		Type:    dag.BootstrapInitialPageHTML,
		URL:     page.URL,
		Pattern: anchoredPattern(body, idx, len(part)),
	}, true
}

func (f *Finder) fromCookies(part string) (dag.BootstrapSource, bool) {
	for name, cookie := range f.cookies {
		if cookie.Value == part || (len(part) >= 8 && strings.Contains(cookie.Value, part)) {
			return dag.BootstrapSource{
				Type:       dag.BootstrapInitialPageCookie,
				CookieName: name,
			}, true
		}
	}
	return dag.BootstrapSource{}, false
}

// fromAuthResponses scans the bodies of dedicated auth endpoints for
// the part; the JSON path of the match becomes the extraction recipe.
func (f *Finder) fromAuthResponses(part string) (dag.BootstrapSource, bool) {
	if f.auth == nil || f.trace == nil {
		return dag.BootstrapSource{}, false
	}
	authURLs := map[string]bool{}
	for _, u := range f.auth.EndpointResponses() {
		authURLs[u] = true
	}
	for _, req := range f.trace.Requests {
		if !authURLs[req.URL] || req.Response == nil {
			continue
		}
		if !strings.Contains(req.Response.Body, part) {
			continue
		}
		src := dag.BootstrapSource{Type: dag.BootstrapAuthRequest, URL: req.URL}
		if path, ok := jsonPathTo(req.Response.JSON, part); ok {
			src.JSONPath = path
		}
		return src, true
	}
	return dag.BootstrapSource{}, false
}

// anchoredPattern builds a regex matching the part in its markup
// context, with the part itself captured.
func anchoredPattern(body string, idx, length int) string {
	start := idx - contextRadius
	if start < 0 {
		start = 0
	}
	end := idx + length + contextRadius
	if end > len(body) {
		end = len(body)
	}
	before := regexp.QuoteMeta(body[start:idx])
	after := regexp.QuoteMeta(body[idx+length : end])
	return before + `([A-Za-z0-9_\-\.=/+]+)` + after
}

// jsonPathTo walks decoded JSON depth-first and returns the dotted path
// of the first string or number leaf matching target.
func jsonPathTo(doc any, target string) (string, bool) {
	return walkJSON(doc, "", target)
}

func walkJSON(node any, path, target string) (string, bool) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if found, ok := walkJSON(child, childPath, target); ok {
				return found, true
			}
		}
	case []any:
		for i, child := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			if found, ok := walkJSON(child, childPath, target); ok {
				return found, true
			}
		}
	case string:
		if v == target {
			return path, true
		}
	case float64:
		if strconv.FormatFloat(v, 'f', -1, 64) == target {
			return path, true
		}
	}
	return "", false
}
