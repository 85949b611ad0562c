// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scorer ranks request descriptors by relevance to a user prompt.
//
// The score is a weighted sum of five lexical and structural subscores.
// Ranking is deterministic: equal scores preserve input order, so the
// scorer is a total order up to ties. It serves as the fallback when no
// LLM collaborator is configured and as the candidate ordering the
// collaborator selects from.
package scorer

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// Subscore weights, fixed by design.
const (
	weightKeyword    = 3.0
	weightAPIPattern = 2.0
	weightParams     = 1.5
	weightMethod     = 1.0
	weightResponse   = 0.8
)

// ScoredURL pairs a descriptor with its composite score.
type ScoredURL struct {
	harparser.URLInfo
	Score float64 `json:"score"`
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "in": true,
	"on": true, "for": true, "and": true, "or": true, "with": true,
	"my": true, "me": true, "i": true, "is": true, "it": true, "that": true,
	"this": true, "do": true, "does": true, "please": true, "want": true,
}

var actionVerbs = map[string]bool{
	"create": true, "submit": true, "update": true, "delete": true,
	"search": true, "login": true, "auth": true, "add": true, "post": true,
	"send": true, "remove": true, "register": true, "upload": true,
	"order": true, "buy": true, "book": true,
}

var (
	versionSegment = regexp.MustCompile(`^v[1-9]$`)
	uuidLike       = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hasDigit       = regexp.MustCompile(`\d`)
)

var negativePathMarkers = []string{"favicon", "analytics", "tracking"}

// Rank scores every descriptor against the prompt and returns them in
// descending score order. Input order is preserved among equal scores.
func Rank(prompt string, urls []harparser.URLInfo) []ScoredURL {
	tokens := promptTokens(prompt)
	wantsAction := promptWantsAction(tokens)

	scored := make([]ScoredURL, len(urls))
	for i, info := range urls {
		scored[i] = ScoredURL{URLInfo: info, Score: score(info, tokens, wantsAction)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Top returns the highest ranked descriptor, or false for an empty list.
func Top(prompt string, urls []harparser.URLInfo) (harparser.URLInfo, bool) {
	ranked := Rank(prompt, urls)
	if len(ranked) == 0 {
		return harparser.URLInfo{}, false
	}
	return ranked[0].URLInfo, true
}

func score(info harparser.URLInfo, tokens []string, wantsAction bool) float64 {
	u, err := url.Parse(info.URL)
	if err != nil {
		return 0
	}
	segments := pathSegments(u.Path)

	s := weightKeyword * keywordRelevance(tokens, segments)
	s += weightAPIPattern * apiPattern(u, segments)
	s += weightParams * paramComplexity(u, segments)
	s += weightMethod * methodScore(info.Method, wantsAction)
	s += weightResponse * responseScore(info.ResponseType)
	return s
}

// keywordRelevance is the proportion of non-stopword prompt tokens that
// occur as substrings of the URL path segments, case-insensitive. A small
// bonus for the longest shared token breaks ties between URLs matching
// the same proportion.
func keywordRelevance(tokens, segments []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	longest := 0
	for _, tok := range tokens {
		for _, seg := range segments {
			if strings.Contains(seg, tok) {
				matched++
				if len(tok) > longest {
					longest = len(tok)
				}
				break
			}
		}
	}
	return float64(matched)/float64(len(tokens)) + float64(longest)*0.001
}

func apiPattern(u *url.URL, segments []string) float64 {
	lower := strings.ToLower(u.Path)
	var s float64
	if strings.Contains(lower, "/api/") {
		s += 1
	}
	for _, seg := range segments {
		if versionSegment.MatchString(seg) {
			s += 1
			break
		}
	}
	if strings.HasSuffix(lower, ".json") {
		s += 1
	}
	for _, ext := range []string{".css", ".js", ".png", ".jpg", ".ico", ".woff", ".svg"} {
		if strings.HasSuffix(lower, ext) {
			s -= 2
		}
	}
	full := strings.ToLower(u.String())
	for _, marker := range negativePathMarkers {
		if strings.Contains(full, marker) {
			s -= 2
		}
	}
	return s
}

func paramComplexity(u *url.URL, segments []string) float64 {
	s := float64(len(u.Query()))
	for _, seg := range segments {
		if uuidLike.MatchString(seg) || hasDigit.MatchString(seg) {
			s += 1
		}
	}
	return s
}

func methodScore(method string, wantsAction bool) float64 {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH", "DELETE":
		if wantsAction {
			return 1
		}
		return 0.5
	default:
		return 0
	}
}

func responseScore(responseType string) float64 {
	switch responseType {
	case "json":
		return 1
	case "html":
		return 0.5
	case "text":
		return 0.25
	default:
		return 0
	}
}

func promptTokens(prompt string) []string {
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func promptWantsAction(tokens []string) bool {
	for _, tok := range tokens {
		if actionVerbs[tok] {
			return true
		}
	}
	return false
}

func pathSegments(path string) []string {
	raw := strings.Split(strings.ToLower(path), "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
