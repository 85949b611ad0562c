// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolver drives a session's dependency graph to completion.
//
// Each Step pops one node from the processing queue, extracts the
// dynamic parts of its request, classifies them, searches the cookie
// snapshot and the trace for producers, and grows the graph with the
// producers it finds. Parts with no producer either receive a bootstrap
// source or a not-found placeholder. The graph stays acyclic at every
// iteration boundary; an iteration that would close a cycle is rolled
// back in full.
package resolver
