// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package harparser

import "errors"

// Sentinel errors for the harparser package.
var (
	// ErrMalformedArchive is returned when the top-level HAR structure is
	// missing or undecodable.
	ErrMalformedArchive = errors.New("malformed archive: missing or invalid log structure")

	// ErrEmptyArchive is returned when the archive contains zero entries.
	ErrEmptyArchive = errors.New("empty archive: no entries recorded")

	// ErrMalformedCookieFile is returned when a cookie snapshot cannot be
	// decoded.
	ErrMalformedCookieFile = errors.New("malformed cookie file")
)
