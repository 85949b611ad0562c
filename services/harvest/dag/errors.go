// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dag

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the dag package.
var (
	// ErrNodeNotFound is returned when a referenced node id doesn't exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateMaster is returned when a second master node is added to
	// the same workflow group.
	ErrDuplicateMaster = errors.New("workflow group already has a master node")

	// ErrCycleDetected is returned when an edge addition would close a
	// directed cycle.
	ErrCycleDetected = errors.New("circular dependency detected")

	// ErrSelfEdge is returned for an edge from a node to itself.
	ErrSelfEdge = errors.New("edge from node to itself")

	// ErrInvalidNode is returned when node content doesn't match its kind.
	ErrInvalidNode = errors.New("invalid node content for kind")
)

// CycleError carries the node ids of the cycle that an edge addition
// would have closed. The graph is unchanged when it is returned.
type CycleError struct {
	Cycles [][]string
}

// Error returns the cycle description.
func (e *CycleError) Error() string {
	paths := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		paths[i] = strings.Join(c, " -> ")
	}
	return fmt.Sprintf("%v: %s", ErrCycleDetected, strings.Join(paths, "; "))
}

// Unwrap lets errors.Is match ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// NodeError wraps an error with the node it concerns.
type NodeError struct {
	NodeID string
	Err    error
}

// Error returns the error message.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}
