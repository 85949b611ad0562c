// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import "encoding/json"

// EdgeJSON is one serialized consumer→producer edge.
type EdgeJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphJSON is the wire view served at {session-id}/dag.json.
type GraphJSON struct {
	Nodes []*Node    `json:"nodes"`
	Edges []EdgeJSON `json:"edges"`
}

// Snapshot produces the serializable view of the graph.
func (g *Graph) Snapshot() GraphJSON {
	nodes := g.AllNodes()
	pairs := g.Edges()
	edges := make([]EdgeJSON, len(pairs))
	for i, p := range pairs {
		edges[i] = EdgeJSON{From: p[0], To: p[1]}
	}
	return GraphJSON{Nodes: nodes, Edges: edges}
}

// MarshalJSON serializes the graph snapshot.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Snapshot())
}
