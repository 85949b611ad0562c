// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package harparser

import "encoding/json"

// ToHAR rebuilds a HAR document from the kept records. Original entries
// are round-tripped field for field; only entries dropped by filtering
// are absent.
func (t *ParsedTrace) ToHAR() *HARLog {
	entries := make([]HAREntry, 0, len(t.Requests))
	for _, r := range t.Requests {
		entries = append(entries, r.entry)
	}
	creator := t.creator
	if creator.Name == "" {
		creator = HARCreator{Name: "harvest", Version: "1.0"}
	}
	version := t.version
	if version == "" {
		version = "1.2"
	}
	return &HARLog{Log: HARLogContent{
		Version: version,
		Creator: creator,
		Entries: entries,
	}}
}

// Serialize marshals the round-tripped HAR document.
func (t *ParsedTrace) Serialize() ([]byte, error) {
	return json.MarshalIndent(t.ToHAR(), "", "  ")
}

// SerializeCookies marshals a cookie snapshot in the structured object
// form of the snapshot format.
func SerializeCookies(snapshot CookieSnapshot) ([]byte, error) {
	return json.MarshalIndent(snapshot, "", "  ")
}
