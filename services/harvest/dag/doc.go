// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dag implements the typed dependency graph the resolver drives
// to completion.
//
// Nodes come in four kinds: request, master request (the target action,
// at most one per workflow group), cookie, and not-found (a placeholder
// for a dynamic part with no known producer). Edges run from consumer to
// producer: an edge A→B means A's request contains a value B extracts.
//
// The graph is acyclic at all times a mutation completes. Edge additions
// apply provisionally, run cycle detection, and roll back on a detected
// cycle. Nodes are addressed by opaque string ids, never by reference,
// which keeps snapshots and rollback trivial.
//
// All methods are safe for concurrent use, though in practice a graph is
// owned by a single session worker.
package dag
