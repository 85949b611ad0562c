// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides styled terminal output for the harvest CLI.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Harvest color palette, amber grain tones over dark soil.
var (
	ColorAmber   = lipgloss.Color("#F5B041")
	ColorWheat   = lipgloss.Color("#F8C471")
	ColorSoil    = lipgloss.Color("#6E5849")
	ColorSuccess = lipgloss.Color("#58D68D")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#7F8C8D")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorAmber),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorWheat).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorSoil).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Title prints a bold section heading.
func Title(text string) {
	fmt.Fprintln(os.Stdout, Styles.Title.Render(text))
}

// Success prints a checkmarked success line.
func Success(text string) {
	fmt.Fprintln(os.Stdout, Styles.Success.Render("✓ "+text))
}

// Warning prints a flagged warning line.
func Warning(text string) {
	fmt.Fprintln(os.Stdout, Styles.Warning.Render("⚠ "+text))
}

// Error prints a crossed error line to stderr.
func Error(text string) {
	fmt.Fprintln(os.Stderr, Styles.Error.Render("✗ "+text))
}

// Info prints a plain informational line.
func Info(text string) {
	fmt.Fprintln(os.Stdout, text)
}

// Muted prints a dimmed line.
func Muted(text string) {
	fmt.Fprintln(os.Stdout, Styles.Muted.Render(text))
}

// KeyValue prints an aligned "key: value" pair with a muted key.
func KeyValue(key, value string) {
	fmt.Fprintf(os.Stdout, "%s %s\n", Styles.Muted.Render(key+":"), value)
}

// Box prints content inside a rounded border with an optional title.
func Box(title, content string) {
	body := content
	if title != "" {
		body = Styles.Bold.Render(title) + "\n" + content
	}
	fmt.Fprintln(os.Stdout, Styles.Box.Render(body))
}

// ErrorBox prints content inside a red border to stderr.
func ErrorBox(title, content string) {
	body := content
	if title != "" {
		body = Styles.Error.Render(title) + "\n" + content
	}
	fmt.Fprintln(os.Stderr, Styles.ErrorBox.Render(body))
}

// List prints each item as a bulleted line.
func List(items []string) {
	for _, item := range items {
		fmt.Fprintln(os.Stdout, "  "+Styles.Muted.Render("•")+" "+item)
	}
}

// Table prints rows as aligned columns with a muted header.
func Table(header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	var b strings.Builder
	for i, h := range header {
		fmt.Fprintf(&b, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(os.Stdout, Styles.Muted.Render(strings.TrimRight(b.String(), " ")))
	for _, row := range rows {
		b.Reset()
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(os.Stdout, strings.TrimRight(b.String(), " "))
	}
}
