// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	os.Stdout = old
	if err := w.Close(); err != nil {
		t.Fatalf("close pipe: %v", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read pipe: %v", err)
	}
	return buf.String()
}

func TestKeyValue(t *testing.T) {
	out := captureStdout(t, func() {
		KeyValue("session", "abc-123")
	})
	if !strings.Contains(out, "session:") || !strings.Contains(out, "abc-123") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestList(t *testing.T) {
	out := captureStdout(t, func() {
		List([]string{"first", "second"})
	})
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") {
		t.Errorf("unexpected output %q", out)
	}
	if got := strings.Count(out, "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d in %q", got, out)
	}
}

func TestTableAlignsColumns(t *testing.T) {
	out := captureStdout(t, func() {
		Table([]string{"ID", "GRADE"}, [][]string{
			{"short", "good"},
			{"a-much-longer-id", "poor"},
		})
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[1], "short") || !strings.Contains(lines[2], "a-much-longer-id") {
		t.Errorf("rows out of order: %q", out)
	}
	// Both rows pad the first column to the widest cell.
	if strings.Index(lines[1], "good") != strings.Index(lines[2], "poor") {
		t.Errorf("columns misaligned: %q", out)
	}
}
