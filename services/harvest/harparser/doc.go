// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package harparser normalizes recorded HTTP archives (HAR 1.2) into the
// request/response model the analysis engine operates on.
//
// Parsing is a single pass: the archive is decoded, entries are filtered
// down to the requests worth analyzing (static assets and analytics noise
// dropped), and a validation result is computed with a quality grade,
// counted statistics and an authentication pre-scan. The validation result
// is immutable after parse; downstream gating reads it but never recomputes
// it.
//
// Every kept record retains its original archive entry so a parsed trace
// can be re-serialized to HAR with the source fields round-tripped
// faithfully. The package also parses cookie snapshot files, which map
// cookie names to either bare value strings or structured objects.
package harparser
