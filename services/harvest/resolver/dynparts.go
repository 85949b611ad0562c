// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// Candidate is one potential dynamic part with the parameter name it
// was found under and where in the request it appeared.
type Candidate struct {
	Name     string
	Value    string
	Location string // "query", "path", "header", "body", "cookie"
}

// wellKnownValues are common constants that look token-like but never
// need a producer.
var wellKnownValues = map[string]bool{
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
	"application/xml":                   true,
	"text/html":                         true,
	"text/plain":                        true,
	"multipart/form-data":               true,
	"gzip, deflate, br":                 true,
	"gzip, deflate":                     true,
	"keep-alive":                        true,
	"no-cache":                          true,
	"same-origin":                       true,
	"cors":                              true,
	"empty":                             true,
	"XMLHttpRequest":                    true,
}

// skipHeaders never carry resolvable values.
var skipHeaders = map[string]bool{
	"accept": true, "accept-encoding": true, "accept-language": true,
	"user-agent": true, "referer": true, "origin": true, "host": true,
	"connection": true, "content-type": true, "content-length": true,
	"cache-control": true, "pragma": true, "sec-fetch-dest": true,
	"sec-fetch-mode": true, "sec-fetch-site": true, "sec-ch-ua": true,
	"sec-ch-ua-mobile": true, "sec-ch-ua-platform": true, "dnt": true,
	"upgrade-insecure-requests": true, "priority": true, "te": true,
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
var jwtPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*$`)

// ExtractCandidates walks a request's URL, headers and body and returns
// every value that looks like it must come from somewhere. Values equal
// to a supplied input variable are excluded.
func ExtractCandidates(req *harparser.RequestRecord, inputVariables map[string]string) []Candidate {
	var out []Candidate
	seen := map[string]bool{}
	supplied := map[string]bool{}
	for _, v := range inputVariables {
		supplied[v] = true
	}

	keep := func(name, value, location string) {
		if supplied[value] || seen[value] || !LooksDynamic(value) {
			return
		}
		seen[value] = true
		out = append(out, Candidate{Name: name, Value: value, Location: location})
	}

	if u, err := url.Parse(req.URL); err == nil {
		for name, values := range u.Query() {
			for _, v := range values {
				keep(name, v, "query")
			}
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i, seg := range segments {
			name := "path"
			if i > 0 {
				name = segments[i-1]
			}
			keep(name, seg, "path")
		}
	}

	for name, value := range req.Headers {
		lower := strings.ToLower(name)
		if skipHeaders[lower] {
			continue
		}
		if lower == "cookie" {
			for _, pair := range strings.Split(value, ";") {
				ck, cv, ok := strings.Cut(strings.TrimSpace(pair), "=")
				if ok {
					keep(ck, cv, "cookie")
				}
			}
			continue
		}
		if lower == "authorization" {
			if _, token, ok := strings.Cut(value, " "); ok {
				keep(name, token, "header")
			} else {
				keep(name, value, "header")
			}
			continue
		}
		keep(name, value, "header")
	}

	if req.BodyJSON != nil {
		walkBody(req.BodyJSON, "", keep)
	} else if req.Body != "" {
		if pairs, err := url.ParseQuery(req.Body); err == nil && len(pairs) > 0 {
			for name, values := range pairs {
				for _, v := range values {
					keep(name, v, "body")
				}
			}
		}
	}
	return out
}

func walkBody(node any, path string, keep func(name, value, location string)) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			walkBody(child, childPath, keep)
		}
	case []any:
		for _, child := range v {
			walkBody(child, path, keep)
		}
	case string:
		keep(path, v, "body")
	}
}

// LooksDynamic reports whether a value has the entropy or structural
// signals of a produced token rather than a human-chosen constant.
// Letter-and-digit mixes qualify at any length; plain words never do,
// and plain numbers only when long enough to be identifiers.
func LooksDynamic(value string) bool {
	if len(value) < 3 || wellKnownValues[value] {
		return false
	}
	if uuidPattern.MatchString(value) || jwtPattern.MatchString(value) {
		return true
	}
	var letters, digits int
	for _, ch := range value {
		switch {
		case unicode.IsLetter(ch):
			letters++
		case unicode.IsDigit(ch):
			digits++
		}
	}
	if digits > 0 && letters > 0 {
		return true
	}
	if digits > 0 && letters == 0 && len(value) >= 6 {
		return true
	}
	// A long run of hex digits still counts even without mixed classes.
	return len(value) >= 16 && isHex(value)
}

func isHex(value string) bool {
	for _, ch := range value {
		if !strings.ContainsRune("0123456789abcdefABCDEF", ch) {
			return false
		}
	}
	return true
}
