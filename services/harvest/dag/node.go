// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// NodeKind discriminates the node variant. Callers switch on the kind and
// never inspect fields that don't belong to the current case.
type NodeKind string

const (
	// KindRequest is an ordinary request node owning a request record.
	KindRequest NodeKind = "request"

	// KindMaster is a request marked as the target action. At most one
	// per workflow group.
	KindMaster NodeKind = "master_request"

	// KindCookie is a key/value pair extracted from the cookie snapshot.
	KindCookie NodeKind = "cookie"

	// KindNotFound is a placeholder for a dynamic part with no producer.
	// Not-found nodes have empty extracted parts and are always leaves.
	KindNotFound NodeKind = "not_found"
)

// ParamClassification buckets a request parameter by how its value is
// obtained at replay time.
type ParamClassification string

const (
	// ClassDynamic values are produced by an earlier request's response.
	ClassDynamic ParamClassification = "dynamic"

	// ClassSessionConstant values are fixed within one end-user session
	// but vary across sessions.
	ClassSessionConstant ParamClassification = "session_constant"

	// ClassStaticConstant values are identical across all sessions.
	ClassStaticConstant ParamClassification = "static_constant"

	// ClassUserInput values come from the caller.
	ClassUserInput ParamClassification = "user_input"

	// ClassOptional values have no identified producer and don't block
	// completion.
	ClassOptional ParamClassification = "optional"
)

// ParamSource records how a classification was obtained.
type ParamSource string

const (
	SourceHeuristic   ParamSource = "heuristic"
	SourceLLM         ParamSource = "llm"
	SourceManual      ParamSource = "manual"
	SourceConsistency ParamSource = "consistency_analysis"
)

// ParamMetadata holds the evidence behind a classification.
type ParamMetadata struct {
	OccurrenceCount   int              `json:"occurrenceCount"`
	TotalRequests     int              `json:"totalRequests"`
	ConsistencyScore  float64          `json:"consistencyScore"`
	Pattern           string           `json:"pattern,omitempty"`
	DomainContext     string           `json:"domainContext,omitempty"`
	BootstrapSource   *BootstrapSource `json:"bootstrapSource,omitempty"`
	RequiresBootstrap bool             `json:"requiresBootstrap,omitempty"`
}

// ClassifiedParameter is one analyzed request parameter.
type ClassifiedParameter struct {
	Name           string              `json:"name"`
	Value          string              `json:"value"`
	Classification ParamClassification `json:"classification"`
	Confidence     float64             `json:"confidence"`
	Source         ParamSource         `json:"source"`
	Metadata       ParamMetadata       `json:"metadata"`
}

// BootstrapSourceType enumerates where a session constant can be fetched
// at replay time.
type BootstrapSourceType string

const (
	BootstrapInitialPageHTML   BootstrapSourceType = "initial_page_html"
	BootstrapInitialPageCookie BootstrapSourceType = "initial_page_cookie"
	BootstrapAuthRequest       BootstrapSourceType = "dedicated_auth_request"
)

// BootstrapSource is the recipe for obtaining a session constant: the
// producing URL plus extraction details appropriate to the type.
type BootstrapSource struct {
	Type       BootstrapSourceType `json:"type"`
	URL        string              `json:"url,omitempty"`
	Pattern    string              `json:"pattern,omitempty"`
	CookieName string              `json:"cookieName,omitempty"`
	JSONPath   string              `json:"jsonPath,omitempty"`
}

// Node is one vertex of the dependency graph.
//
// Dynamic parts are literal substrings of this node's request that must
// be produced by some ancestor before replay. Extracted parts are the
// substrings this node produces for descendants. The two lists stay
// disjoint; SetDynamicParts and AddExtractedParts enforce it.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`

	// Request is set for KindRequest and KindMaster.
	Request *harparser.RequestRecord `json:"request,omitempty"`

	// CookieKey/CookieValue are set for KindCookie.
	CookieKey   string `json:"cookieKey,omitempty"`
	CookieValue string `json:"cookieValue,omitempty"`

	// MissingPart is set for KindNotFound.
	MissingPart string `json:"missingPart,omitempty"`

	DynamicParts         []string              `json:"dynamicParts"`
	ExtractedParts       []string              `json:"extractedParts"`
	InputVariables       map[string]string     `json:"inputVariables,omitempty"`
	ClassifiedParameters []ClassifiedParameter `json:"classifiedParameters,omitempty"`
	Bootstrap            *BootstrapSource      `json:"bootstrap,omitempty"`
	GroupID              string                `json:"groupId,omitempty"`
}

// IsRequest reports whether the node owns a request record.
func (n *Node) IsRequest() bool {
	return n.Kind == KindRequest || n.Kind == KindMaster
}

// HasDynamicParts reports whether unresolved parts remain.
func (n *Node) HasDynamicParts() bool {
	return len(n.DynamicParts) > 0
}

// UpsertClassifiedParameter merges a parameter by (name, value) key.
// Existing entries are refreshed in place; entries are never dropped, so
// classification history stays auditable.
func (n *Node) UpsertClassifiedParameter(p ClassifiedParameter) {
	for i, existing := range n.ClassifiedParameters {
		if existing.Name == p.Name && existing.Value == p.Value {
			n.ClassifiedParameters[i] = p
			return
		}
	}
	n.ClassifiedParameters = append(n.ClassifiedParameters, p)
}

// removeFromSet removes value from a string slice, preserving order.
func removeFromSet(set []string, value string) []string {
	out := set[:0]
	for _, v := range set {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func containsString(set []string, value string) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}
