// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// Consistency thresholds for constant classification.
const (
	staticConstantThreshold  = 0.95
	sessionConstantThreshold = 0.8
)

// ClassifyInput bundles the trace context one classification needs.
type ClassifyInput struct {
	Trace          *harparser.ParsedTrace
	Current        *harparser.RequestRecord
	Cookies        harparser.CookieSnapshot
	InputVariables map[string]string
}

// Classify buckets one candidate by scanning the rest of the trace for
// occurrences of the same parameter name and value.
//
// Precedence: a user-supplied value wins outright; a value some other
// response or snapshot cookie produces is dynamic; named parameters
// with consistent values become constants (static when the value never
// varies across several requests, session-scoped otherwise); unnamed
// path or header tokens with no producer stay dynamic so the producer
// search can surface them as unresolvable.
func Classify(c Candidate, in ClassifyInput) dag.ClassifiedParameter {
	values := distinctValues(c.Name, in.Trace)
	occurrences := 0
	produced := false
	for _, req := range in.Trace.Requests {
		if req.Contains(c.Value) {
			occurrences++
		}
		if req != in.Current && req.ResponseContains(c.Value) {
			produced = true
		}
	}
	inCookies := false
	for _, cookie := range in.Cookies {
		if strings.Contains(cookie.Value, c.Value) {
			inCookies = true
			break
		}
	}

	consistency := 0.0
	if len(values) > 0 {
		consistency = 1.0 / float64(len(values))
	}

	param := dag.ClassifiedParameter{
		Name:   c.Name,
		Value:  c.Value,
		Source: dag.SourceConsistency,
		Metadata: dag.ParamMetadata{
			OccurrenceCount:  occurrences,
			TotalRequests:    len(in.Trace.Requests),
			ConsistencyScore: consistency,
			Pattern:          valuePattern(c.Value),
		},
	}

	named := c.Location == "query" || c.Location == "body" || c.Location == "cookie"

	switch {
	case matchesInput(c.Value, in.InputVariables):
		param.Classification = dag.ClassUserInput
		param.Confidence = 1.0
		param.Source = dag.SourceManual
	case produced || inCookies:
		param.Classification = dag.ClassDynamic
		param.Confidence = 0.9
		param.Source = dag.SourceHeuristic
	case named && consistency >= staticConstantThreshold && len(values) == 1 && occurrences >= 2:
		param.Classification = dag.ClassStaticConstant
		param.Confidence = consistency
	case named && consistency >= sessionConstantThreshold:
		param.Classification = dag.ClassSessionConstant
		param.Confidence = consistency
		param.Metadata.RequiresBootstrap = true
	case c.Location == "path" || c.Location == "header" || c.Location == "llm":
		param.Classification = dag.ClassDynamic
		param.Confidence = 0.5
		param.Source = dag.SourceHeuristic
	default:
		param.Classification = dag.ClassOptional
		param.Confidence = 0.3
		param.Source = dag.SourceHeuristic
	}
	return param
}

// distinctValues collects every value observed under the parameter name
// across query strings and JSON bodies.
func distinctValues(name string, trace *harparser.ParsedTrace) map[string]bool {
	values := map[string]bool{}
	for _, req := range trace.Requests {
		for _, v := range req.QueryParams()[name] {
			values[v] = true
		}
		collectNamed(req.BodyJSON, name, values)
	}
	return values
}

func collectNamed(node any, name string, values map[string]bool) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if key == name {
				if s, ok := child.(string); ok {
					values[s] = true
				}
			}
			collectNamed(child, name, values)
		}
	case []any:
		for _, child := range v {
			collectNamed(child, name, values)
		}
	}
}

func matchesInput(value string, inputVariables map[string]string) bool {
	for _, v := range inputVariables {
		if v == value {
			return true
		}
	}
	return false
}

// valuePattern summarizes a value's shape for diagnostics and for
// bootstrap extraction hints.
func valuePattern(value string) string {
	switch {
	case uuidPattern.MatchString(value):
		return "uuid"
	case jwtPattern.MatchString(value):
		return "jwt"
	case isHex(value) && len(value) >= 16:
		return "hex"
	case allDigits(value):
		return fmt.Sprintf("numeric(%d)", len(value))
	case strings.ContainsAny(value, "=+/") && len(value) >= 16:
		return "base64"
	default:
		return fmt.Sprintf("alnum(%d)", len(value))
	}
}

func allDigits(value string) bool {
	for _, ch := range value {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return value != ""
}
