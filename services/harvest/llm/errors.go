// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProvider signals that no collaborator is configured and the
	// caller should fall back to its heuristic path.
	ErrNoProvider = errors.New("no llm provider configured")

	// ErrMalformedAnswer signals the provider returned text that does
	// not decode into the expected answer schema.
	ErrMalformedAnswer = errors.New("malformed llm answer")

	// ErrAnswerOutOfRange signals a structurally valid answer whose
	// content violates the call contract, e.g. a URL not in the
	// candidate list.
	ErrAnswerOutOfRange = errors.New("llm answer outside allowed values")
)

// CallError wraps a provider failure with the function-shaped call that
// produced it.
type CallError struct {
	Function string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("llm call %s: %v", e.Function, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
