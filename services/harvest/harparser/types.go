// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package harparser

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"
)

// ----------------------------------------------------------------------------
// HAR 1.2 wire types
// ----------------------------------------------------------------------------

// HARLog is the top-level HAR document.
type HARLog struct {
	Log HARLogContent `json:"log"`
}

// HARLogContent holds the HAR log metadata and entries.
type HARLogContent struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

// HARCreator identifies the tool that generated the HAR.
type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HAREntry is a single request/response pair.
type HAREntry struct {
	StartedDateTime string       `json:"startedDateTime"`
	Time            float64      `json:"time"`
	Request         HARRequest   `json:"request"`
	Response        *HARResponse `json:"response,omitempty"`
	Cache           struct{}     `json:"cache"`
	Timings         HARTimings   `json:"timings"`
}

// HARRequest is the request half of an entry.
type HARRequest struct {
	Method      string       `json:"method"`
	URL         string       `json:"url"`
	HTTPVersion string       `json:"httpVersion"`
	Headers     []HARHeader  `json:"headers"`
	QueryString []HARQuery   `json:"queryString"`
	PostData    *HARPostData `json:"postData,omitempty"`
}

// HARResponse is the response half of an entry.
type HARResponse struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Headers     []HARHeader `json:"headers"`
	Content     HARContent  `json:"content"`
}

// HARContent is the response body payload.
type HARContent struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// HARPostData is the request body payload.
type HARPostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// HARTimings carries the per-phase timing breakdown.
type HARTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// HARHeader is one request or response header.
type HARHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HARQuery is one query string parameter.
type HARQuery struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ----------------------------------------------------------------------------
// Normalized model
// ----------------------------------------------------------------------------

// ResponseRecord is the normalized response of a request record.
type ResponseRecord struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	MimeType   string            `json:"mimeType"`
	Body       string            `json:"body"`

	// JSON holds the parsed body when the content type is JSON-like and
	// the body decodes cleanly; nil otherwise.
	JSON any `json:"-"`
}

// RequestRecord is the normalized unit the analysis engine operates on.
//
// URL is always fully qualified. Headers preserve original casing with one
// value per name. The query-parameter view is derived from URL so the two
// can never drift apart.
type RequestRecord struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body,omitempty"`
	Response  *ResponseRecord   `json:"response,omitempty"`
	Timestamp time.Time         `json:"timestamp"`

	// BodyJSON holds the parsed request body for JSON-like payloads.
	BodyJSON any `json:"-"`

	// entry retains the original archive entry for faithful round-trips.
	entry HAREntry
}

// QueryParams derives the query-parameter view from the record's URL.
func (r *RequestRecord) QueryParams() url.Values {
	u, err := url.Parse(r.URL)
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

// Header returns the value for name using case-insensitive lookup,
// preserving the stored casing of everything else.
func (r *RequestRecord) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Contains reports whether value appears literally anywhere in the
// request: URL, header values, or body.
func (r *RequestRecord) Contains(value string) bool {
	if value == "" {
		return false
	}
	if strings.Contains(r.URL, value) {
		return true
	}
	for _, v := range r.Headers {
		if strings.Contains(v, value) {
			return true
		}
	}
	return strings.Contains(r.Body, value)
}

// ResponseContains reports whether value appears literally in the
// response body.
func (r *RequestRecord) ResponseContains(value string) bool {
	return r.Response != nil && value != "" && strings.Contains(r.Response.Body, value)
}

// Entry returns the original archive entry backing this record.
func (r *RequestRecord) Entry() HAREntry {
	return r.entry
}

// URLInfo is a classified descriptor of one request, the unit the URL
// scorer and the LLM collaborator rank.
type URLInfo struct {
	Method       string `json:"method"`
	URL          string `json:"url"`
	RequestType  string `json:"requestType"`
	ResponseType string `json:"responseType"`
}

// ----------------------------------------------------------------------------
// Validation
// ----------------------------------------------------------------------------

// QualityGrade grades how analyzable a parsed trace is.
type QualityGrade string

const (
	QualityExcellent QualityGrade = "excellent"
	QualityGood      QualityGrade = "good"
	QualityPoor      QualityGrade = "poor"
	QualityEmpty     QualityGrade = "empty"
)

// TraceStats are the counted statistics behind a quality grade.
type TraceStats struct {
	TotalEntries         int `json:"totalEntries"`
	RelevantEntries      int `json:"relevantEntries"`
	APIRequests          int `json:"apiRequests"`
	NonGETRequests       int `json:"nonGetRequests"`
	ResponsesWithBodies  int `json:"responsesWithBodies"`
	AuthBearingRequests  int `json:"authBearingRequests"`
	TokenBearingRequests int `json:"tokenBearingRequests"`
	AuthErrors           int `json:"authErrors"`
}

// AuthSignals is the authentication pre-scan recorded at parse time.
type AuthSignals struct {
	HasAuthHeader     bool     `json:"hasAuthHeader"`
	SendsCookies      bool     `json:"sendsCookies"`
	HasTokenParameter bool     `json:"hasTokenParameter"`
	HasAuthErrors     bool     `json:"hasAuthErrors"`
	Schemes           []string `json:"schemes"`
}

// ValidationResult is computed once at parse time and immutable after.
type ValidationResult struct {
	Grade           QualityGrade `json:"grade"`
	Stats           TraceStats   `json:"stats"`
	Auth            AuthSignals  `json:"auth"`
	Issues          []string     `json:"issues"`
	Recommendations []string     `json:"recommendations"`
}

// ParsedTrace is the ordered sequence of kept request records plus the
// derived descriptor list and the parse-time validation result.
type ParsedTrace struct {
	Requests   []*RequestRecord
	URLs       []URLInfo
	Validation ValidationResult

	version string
	creator HARCreator
}

// FirstHTMLResponse returns the earliest record whose response is HTML,
// or nil. The bootstrap finder scans it for session constants embedded in
// the initial page.
func (t *ParsedTrace) FirstHTMLResponse() *RequestRecord {
	for _, r := range t.Requests {
		if r.Response != nil && isHTMLType(r.Response.MimeType) {
			return r
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Cookie snapshot
// ----------------------------------------------------------------------------

// Cookie is one entry of a cookie snapshot.
type Cookie struct {
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// CookieSnapshot maps cookie names to their captured state. Names are
// unique per snapshot.
type CookieSnapshot map[string]Cookie

// cookieWire accepts either a bare value string or a structured object,
// ignoring unknown fields.
type cookieWire struct {
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
}

// UnmarshalJSON implements the flexible value-or-object cookie encoding.
func (c *Cookie) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*c = Cookie{Value: bare}
		return nil
	}
	var wire cookieWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = Cookie{
		Value:    wire.Value,
		Domain:   wire.Domain,
		Path:     wire.Path,
		Secure:   wire.Secure,
		HTTPOnly: wire.HTTPOnly,
	}
	return nil
}

// ----------------------------------------------------------------------------
// Content-type helpers
// ----------------------------------------------------------------------------

func isJSONType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.Contains(mt, "json") || strings.Contains(mt, "+json")
}

func isHTMLType(mimeType string) bool {
	return strings.Contains(strings.ToLower(mimeType), "html")
}

// classifyContentType buckets a mime type for descriptors and scoring.
func classifyContentType(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case mt == "":
		return "unknown"
	case isJSONType(mt):
		return "json"
	case strings.Contains(mt, "html"):
		return "html"
	case strings.HasPrefix(mt, "text/"), strings.Contains(mt, "xml"),
		strings.Contains(mt, "x-www-form-urlencoded"):
		return "text"
	default:
		return "binary"
	}
}
