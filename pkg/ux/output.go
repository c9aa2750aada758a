// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the query CLI.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Query     lipgloss.Style

	Box       lipgloss.Style
	HeaderRow lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Query:     lipgloss.NewStyle().Foreground(ColorTealPrimary).Italic(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	HeaderRow: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
}

// Title prints a styled title
func Title(text string) {
	if GetPersonalityLevel() == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
	default:
		fmt.Printf("%s %s\n", Styles.Success.Render("✓"), text)
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	default:
		fmt.Printf("%s %s\n", Styles.Warning.Render("⚠"), text)
	}
}

// Error prints an error message
func Error(text string) {
	switch GetPersonalityLevel() {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	default:
		fmt.Printf("%s %s\n", Styles.Error.Render("✗"), text)
	}
}

// Muted prints secondary text
func Muted(text string) {
	if GetPersonalityLevel() == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Query prints the executed query in its accent style
func Query(text string) {
	if GetPersonalityLevel() == PersonalityMachine {
		fmt.Printf("QUERY: %s\n", text)
		return
	}
	fmt.Println(Styles.Query.Render(text))
}

// RenderTable formats a result table for the terminal.
//
// Full personality draws a boxed, column-aligned table. Machine
// personality produces pipe-delimited markdown so piped output stays
// parseable. Empty results render as "(no rows)".
func RenderTable(columns []string, rows [][]string) string {
	if len(columns) == 0 {
		return "(no rows)"
	}
	if GetPersonalityLevel() == PersonalityMachine {
		return markdownTable(columns, rows)
	}

	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = pad(col, widths[i])
	}
	b.WriteString(Styles.HeaderRow.Render(strings.Join(header, "  ")))
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString(Styles.Muted.Render("(no rows)"))
	}
	for ri, row := range rows {
		cells := make([]string, len(columns))
		for i := range columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = pad(cell, widths[i])
		}
		b.WriteString(strings.Join(cells, "  "))
		if ri < len(rows)-1 {
			b.WriteString("\n")
		}
	}
	return Styles.Box.Render(b.String())
}

func markdownTable(columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	seps := make([]string, len(columns))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |")
	for _, row := range rows {
		b.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	if len(rows) == 0 {
		b.WriteString("\n(no rows)")
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
