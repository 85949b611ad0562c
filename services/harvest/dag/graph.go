// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/oscaromsn/harvest/services/harvest/harparser"
)

// Graph is the session-owned dependency graph. Edges run consumer to
// producer and are kept in insertion order for deterministic traversal.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string            // node ids in insertion order
	edges map[string][]string // consumer id -> producer ids, ordered
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]string),
	}
}

// ----------------------------------------------------------------------------
// Node operations
// ----------------------------------------------------------------------------

// AddRequestNode adds a request node and returns its id.
func (g *Graph) AddRequestNode(req *harparser.RequestRecord, groupID string) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%w: request node without request", ErrInvalidNode)
	}
	return g.add(&Node{
		Kind:           KindRequest,
		Request:        req,
		GroupID:        groupID,
		DynamicParts:   []string{},
		ExtractedParts: []string{},
		InputVariables: map[string]string{},
	}, "req_"), nil
}

// AddMasterNode adds the target-action node for a workflow group. Fails
// when the group already has a master.
func (g *Graph) AddMasterNode(req *harparser.RequestRecord, groupID string) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%w: master node without request", ErrInvalidNode)
	}
	g.mu.Lock()
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Kind == KindMaster && n.GroupID == groupID {
			g.mu.Unlock()
			return "", fmt.Errorf("group %q: %w", groupID, ErrDuplicateMaster)
		}
	}
	g.mu.Unlock()
	return g.add(&Node{
		Kind:           KindMaster,
		Request:        req,
		GroupID:        groupID,
		DynamicParts:   []string{},
		ExtractedParts: []string{},
		InputVariables: map[string]string{},
	}, "master_"), nil
}

// AddCookieNode adds a cookie node, reusing an existing node for the same
// (key, value) pair. Cookie nodes are session-global, not group-scoped.
func (g *Graph) AddCookieNode(key, value string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Kind == KindCookie && n.CookieKey == key && n.CookieValue == value {
			return id
		}
	}
	node := &Node{
		Kind:           KindCookie,
		CookieKey:      key,
		CookieValue:    value,
		DynamicParts:   []string{},
		ExtractedParts: []string{value},
		InputVariables: map[string]string{},
	}
	return g.addLocked(node, "cookie_")
}

// AddNotFoundNode adds a placeholder leaf for an unresolvable part.
func (g *Graph) AddNotFoundNode(part, groupID string) string {
	return g.add(&Node{
		Kind:           KindNotFound,
		MissingPart:    part,
		GroupID:        groupID,
		DynamicParts:   []string{},
		ExtractedParts: []string{},
		InputVariables: map[string]string{},
	}, "nf_")
}

func (g *Graph) add(node *Node, prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(node, prefix)
}

func (g *Graph) addLocked(node *Node, prefix string) string {
	node.ID = prefix + uuid.NewString()
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return node.ID
}

// GetNode returns the node for id.
func (g *Graph) GetNode(id string) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return nil, &NodeError{NodeID: id, Err: ErrNodeNotFound}
	}
	return node, nil
}

// RemoveNode deletes a node and every edge touching it. Used by the
// resolver to roll back an aborted iteration.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)
	g.order = removeFromSet(g.order, id)
	delete(g.edges, id)
	for from, tos := range g.edges {
		g.edges[from] = removeFromSet(tos, id)
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// AllNodes returns every node in insertion order.
func (g *Graph) AllNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// NodesByGroup returns the nodes of one workflow group, in insertion
// order. Cookie nodes are session-global and included for every group.
func (g *Graph) NodesByGroup(groupID string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var nodes []*Node
	for _, id := range g.order {
		n := g.nodes[id]
		if n.GroupID == groupID || n.Kind == KindCookie {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// NodeGroup returns the group id of a node.
func (g *Graph) NodeGroup(id string) (string, error) {
	node, err := g.GetNode(id)
	if err != nil {
		return "", err
	}
	return node.GroupID, nil
}

// ----------------------------------------------------------------------------
// Part and attribute mutation
// ----------------------------------------------------------------------------

// SetDynamicParts replaces a node's dynamic parts, dropping any value the
// node already extracts so the two lists stay disjoint.
func (g *Graph) SetDynamicParts(id string, parts []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return &NodeError{NodeID: id, Err: ErrNodeNotFound}
	}
	filtered := make([]string, 0, len(parts))
	for _, p := range parts {
		if !containsString(node.ExtractedParts, p) && !containsString(filtered, p) {
			filtered = append(filtered, p)
		}
	}
	node.DynamicParts = filtered
	return nil
}

// AddExtractedParts appends produced values to a node, removing each from
// its dynamic parts to keep the lists disjoint. Not-found nodes never
// extract anything.
func (g *Graph) AddExtractedParts(id string, parts ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return &NodeError{NodeID: id, Err: ErrNodeNotFound}
	}
	if node.Kind == KindNotFound {
		return &NodeError{NodeID: id, Err: fmt.Errorf("%w: not-found nodes have no extracted parts", ErrInvalidNode)}
	}
	for _, p := range parts {
		if p == "" || containsString(node.ExtractedParts, p) {
			continue
		}
		node.ExtractedParts = append(node.ExtractedParts, p)
		node.DynamicParts = removeFromSet(node.DynamicParts, p)
	}
	return nil
}

// SetInputVariable binds a user-supplied variable on a node and clears
// the matching dynamic part.
func (g *Graph) SetInputVariable(id, name, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return &NodeError{NodeID: id, Err: ErrNodeNotFound}
	}
	if node.InputVariables == nil {
		node.InputVariables = map[string]string{}
	}
	node.InputVariables[name] = value
	node.DynamicParts = removeFromSet(node.DynamicParts, value)
	return nil
}

// UpsertClassifiedParameter merges a classified parameter on a node by
// (name, value) key.
func (g *Graph) UpsertClassifiedParameter(id string, p ClassifiedParameter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return &NodeError{NodeID: id, Err: ErrNodeNotFound}
	}
	node.UpsertClassifiedParameter(p)
	return nil
}

// SetBootstrap attaches a bootstrap source to a node.
func (g *Graph) SetBootstrap(id string, src *BootstrapSource) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[id]
	if !ok {
		return &NodeError{NodeID: id, Err: ErrNodeNotFound}
	}
	node.Bootstrap = src
	return nil
}

// ----------------------------------------------------------------------------
// Edges and cycles
// ----------------------------------------------------------------------------

// AddEdge adds a consumer→producer edge. The edge is applied
// provisionally; if it closes a cycle it is rolled back and a CycleError
// is returned with the graph unchanged. Duplicate edges are no-ops.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return &NodeError{NodeID: from, Err: ErrSelfEdge}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return &NodeError{NodeID: from, Err: ErrNodeNotFound}
	}
	if _, ok := g.nodes[to]; !ok {
		return &NodeError{NodeID: to, Err: ErrNodeNotFound}
	}
	if containsString(g.edges[from], to) {
		return nil
	}

	g.edges[from] = append(g.edges[from], to)
	if cycles := g.detectCyclesLocked(); len(cycles) > 0 {
		g.edges[from] = removeFromSet(g.edges[from], to)
		return &CycleError{Cycles: cycles}
	}
	return nil
}

// RemoveEdge deletes a consumer→producer edge if present.
func (g *Graph) RemoveEdge(from, to string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[from] = removeFromSet(g.edges[from], to)
}

// Successors returns the producers the node depends on, in edge order.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.edges[id]))
	copy(out, g.edges[id])
	return out
}

// Predecessors returns the consumers that depend on the node.
func (g *Graph) Predecessors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var preds []string
	for _, from := range g.order {
		if containsString(g.edges[from], id) {
			preds = append(preds, from)
		}
	}
	return preds
}

// Edges returns every (consumer, producer) pair in deterministic order.
func (g *Graph) Edges() [][2]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var pairs [][2]string
	for _, from := range g.order {
		for _, to := range g.edges[from] {
			pairs = append(pairs, [2]string{from, to})
		}
	}
	return pairs
}

// DetectCycles returns every directed cycle, or nil for an acyclic graph.
func (g *Graph) DetectCycles() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCyclesLocked()
}

// detectCyclesLocked runs tri-color DFS; on a back edge the cycle is
// reconstructed from the traversal stack.
func (g *Graph) detectCyclesLocked() [][]string {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.edges[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				start := len(stack) - 1
				for start >= 0 && stack[start] != next {
					start--
				}
				if start >= 0 {
					cycle := make([]string, len(stack)-start)
					copy(cycle, stack[start:])
					cycles = append(cycles, append(cycle, next))
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.order {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// TopologicalSort returns node ids with every producer before each of its
// consumers. Deterministic: insertion order drives both the root loop and
// adjacency traversal.
func (g *Graph) TopologicalSort() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	visited := make(map[string]bool, len(g.nodes))
	var ordered []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, producer := range g.edges[id] {
			visit(producer)
		}
		ordered = append(ordered, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return ordered
}

// TopologicalSortGroup restricts the sort to one workflow group (plus
// the session-global cookie nodes reachable from it).
func (g *Graph) TopologicalSortGroup(groupID string) []string {
	members := map[string]bool{}
	for _, n := range g.NodesByGroup(groupID) {
		members[n.ID] = true
	}
	var ordered []string
	for _, id := range g.TopologicalSort() {
		if members[id] {
			ordered = append(ordered, id)
		}
	}
	return ordered
}

// ----------------------------------------------------------------------------
// Completion queries
// ----------------------------------------------------------------------------

// IsComplete reports whether every node has empty dynamic parts and no
// node is a not-found placeholder.
func (g *Graph) IsComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		if len(n.DynamicParts) > 0 || n.Kind == KindNotFound {
			return false
		}
	}
	return true
}

// Unresolved lists nodes that still have dynamic parts, with those parts.
type Unresolved struct {
	NodeID string   `json:"nodeId"`
	Parts  []string `json:"parts"`
}

// UnresolvedNodes returns every node blocking completion, in insertion
// order. Not-found nodes report their missing part.
func (g *Graph) UnresolvedNodes() []Unresolved {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Unresolved
	for _, id := range g.order {
		n := g.nodes[id]
		switch {
		case len(n.DynamicParts) > 0:
			parts := make([]string, len(n.DynamicParts))
			copy(parts, n.DynamicParts)
			out = append(out, Unresolved{NodeID: id, Parts: parts})
		case n.Kind == KindNotFound:
			out = append(out, Unresolved{NodeID: id, Parts: []string{n.MissingPart}})
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Request matching
// ----------------------------------------------------------------------------

// FindNodeByRequest returns the id of an existing request node matching
// req on (method, scheme, host, path, sorted query-key set). Among
// several matches, ties break by query-value overlap, then by header
// overlap.
func (g *Graph) FindNodeByRequest(req *harparser.RequestRecord) (string, bool) {
	if req == nil {
		return "", false
	}
	target := requestKey(req)
	if target == "" {
		return "", false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	bestID := ""
	bestScore := -1
	for _, id := range g.order {
		n := g.nodes[id]
		if !n.IsRequest() || requestKey(n.Request) != target {
			continue
		}
		score := overlapScore(req, n.Request)
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	return bestID, bestID != ""
}

func requestKey(req *harparser.RequestRecord) string {
	u, err := url.Parse(req.URL)
	if err != nil {
		return ""
	}
	keys := make([]string, 0, len(u.Query()))
	for k := range u.Query() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.ToUpper(req.Method) + " " + u.Scheme + "://" + u.Host + u.Path + "?" + strings.Join(keys, ",")
}

func overlapScore(a, b *harparser.RequestRecord) int {
	score := 0
	aq, bq := a.QueryParams(), b.QueryParams()
	for k, vs := range aq {
		if len(vs) > 0 && bq.Get(k) == vs[0] {
			score += 2
		}
	}
	for k, v := range a.Headers {
		if b.Headers[k] == v {
			score++
		}
	}
	return score
}
