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

	"github.com/oscaromsn/harvest/services/harvest/dag"
	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

func classifyWith(t *testing.T, c Candidate, trace *harparser.ParsedTrace, current *harparser.RequestRecord, cookies harparser.CookieSnapshot, inputs map[string]string) dag.ClassifiedParameter {
	t.Helper()
	return Classify(c, ClassifyInput{
		Trace:          trace,
		Current:        current,
		Cookies:        cookies,
		InputVariables: inputs,
	})
}

func TestClassifyStaticConstant(t *testing.T) {
	t0 := time.Now()
	// The same api version rides every request.
	reqs := []*harparser.RequestRecord{
		record("GET", "https://svc/api/a?v=v2build99", t0),
		record("GET", "https://svc/api/b?v=v2build99", t0.Add(time.Second)),
		record("GET", "https://svc/api/c?v=v2build99", t0.Add(2*time.Second)),
	}
	trace := &harparser.ParsedTrace{Requests: reqs}

	p := classifyWith(t, Candidate{Name: "v", Value: "v2build99", Location: "query"}, trace, reqs[2], nil, nil)
	if p.Classification != dag.ClassStaticConstant {
		t.Errorf("classification = %s, want static_constant", p.Classification)
	}
	if p.Metadata.ConsistencyScore < staticConstantThreshold {
		t.Errorf("consistency = %f", p.Metadata.ConsistencyScore)
	}
	if p.Metadata.OccurrenceCount != 3 {
		t.Errorf("occurrences = %d", p.Metadata.OccurrenceCount)
	}
}

func TestClassifySessionConstantSingleOccurrence(t *testing.T) {
	req := withJSONBody(record("POST", "https://svc/api/search", time.Now()), `{"ctx":"AB7"}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}

	p := classifyWith(t, Candidate{Name: "ctx", Value: "AB7", Location: "body"}, trace, req, nil, nil)
	if p.Classification != dag.ClassSessionConstant {
		t.Errorf("classification = %s, want session_constant", p.Classification)
	}
	if !p.Metadata.RequiresBootstrap {
		t.Error("unproduced session constant should require bootstrap")
	}
}

func TestClassifyUserInputWins(t *testing.T) {
	req := record("GET", "https://svc/api/orders/ord991122", time.Now())
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}

	p := classifyWith(t, Candidate{Name: "orders", Value: "ord991122", Location: "path"}, trace, req,
		nil, map[string]string{"orderId": "ord991122"})
	if p.Classification != dag.ClassUserInput || p.Source != dag.SourceManual {
		t.Errorf("classification = %s/%s", p.Classification, p.Source)
	}
	if p.Confidence != 1.0 {
		t.Errorf("confidence = %f", p.Confidence)
	}
}

func TestClassifyDynamicFromResponse(t *testing.T) {
	t0 := time.Now()
	producer := withJSONResponse(record("GET", "https://svc/api/user", t0), `{"uid":"u-42"}`)
	consumer := record("POST", "https://svc/api/order/u-42", t0.Add(time.Second))
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{producer, consumer}}

	p := classifyWith(t, Candidate{Name: "order", Value: "u-42", Location: "path"}, trace, consumer, nil, nil)
	if p.Classification != dag.ClassDynamic {
		t.Errorf("classification = %s, want dynamic", p.Classification)
	}
}

func TestClassifyOwnResponseDoesNotCount(t *testing.T) {
	// The value only appears in the current request's own response.
	req := withJSONResponse(record("GET", "https://svc/api/echo?tok=echo11tok", time.Now()), `{"tok":"echo11tok"}`)
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}

	p := classifyWith(t, Candidate{Name: "tok", Value: "echo11tok", Location: "query"}, trace, req, nil, nil)
	if p.Classification == dag.ClassDynamic {
		t.Error("a node's own response must not make its input dynamic")
	}
}

func TestClassifyCookieSnapshotIsDynamic(t *testing.T) {
	req := record("GET", "https://svc/api/data/abc123", time.Now())
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}
	cookies := harparser.CookieSnapshot{"sid": {Value: "abc123"}}

	p := classifyWith(t, Candidate{Name: "data", Value: "abc123", Location: "path"}, trace, req, cookies, nil)
	if p.Classification != dag.ClassDynamic {
		t.Errorf("classification = %s, want dynamic", p.Classification)
	}
}

func TestClassifyUnproducedPathStaysDynamic(t *testing.T) {
	req := record("GET", "https://svc/api/thing/zz99xx88yy77", time.Now())
	trace := &harparser.ParsedTrace{Requests: []*harparser.RequestRecord{req}}

	p := classifyWith(t, Candidate{Name: "thing", Value: "zz99xx88yy77", Location: "path"}, trace, req, nil, nil)
	if p.Classification != dag.ClassDynamic {
		t.Errorf("classification = %s, want dynamic", p.Classification)
	}
}

func TestValuePattern(t *testing.T) {
	cases := map[string]string{
		"550e8400-e29b-41d4-a716-446655440000": "uuid",
		"eyJhbGci.eyJzdWIi.c2ln":               "jwt",
		"deadbeefcafebabe0123":                 "hex",
		"123456":                               "numeric(6)",
		"QWxhZGRpbjpvcGVuIHNlc2FtZQ==":         "base64",
		"ord-7781":                             "alnum(8)",
	}
	for value, want := range cases {
		if got := valuePattern(value); got != want {
			t.Errorf("valuePattern(%q) = %q, want %q", value, got, want)
		}
	}
}
