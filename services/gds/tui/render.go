// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
)

// =============================================================================
// Styles
// =============================================================================

// Styles holds the lipgloss styles of the progress view.
type Styles struct {
	Title    lipgloss.Style
	Task     lipgloss.Style
	Pending  lipgloss.Style
	Running  lipgloss.Style
	Finished lipgloss.Style
	Failed   lipgloss.Style
	Error    lipgloss.Style
	Help     lipgloss.Style
}

// DefaultStyles returns the colored terminal styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")),
		Task: lipgloss.NewStyle(),
		Pending: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		Running: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		Finished: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")),
		Failed: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")),
		Error: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("203")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:    plain,
		Task:     plain,
		Pending:  plain,
		Running:  plain,
		Finished: plain,
		Failed:   plain,
		Error:    plain,
		Help:     plain,
	}
}

func (s Styles) status(status string) lipgloss.Style {
	switch status {
	case progress.Running.String():
		return s.Running
	case progress.Finished.String():
		return s.Finished
	case progress.Failed.String():
		return s.Failed
	default:
		return s.Pending
	}
}

// =============================================================================
// Bars
// =============================================================================

// BarFunc draws a progress bar for a fraction in [0, 1].
type BarFunc func(fraction float64) string

// TextBar returns a BarFunc drawing width cells of '#' and '.'.
func TextBar(width int) BarFunc {
	return func(fraction float64) string {
		filled := int(fraction * float64(width))
		filled = min(max(filled, 0), width)
		return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
	}
}

// =============================================================================
// Tree Rendering
// =============================================================================

// Render draws a task tree, one task per line.
//
// Description:
//
//	Each line shows the task description, its status and, when the volume
//	is known, a bar and a percentage. Children are indented two spaces per
//	level. Pending children are shown so the remaining work is visible.
//	Failed tasks carry their error on the following line.
//
// Inputs:
//
//	s - The snapshot to draw.
//	styles - Styles applied to descriptions and statuses.
//	bar - Bar drawer. Nil omits bars.
//
// Outputs:
//
//	string - The rendered tree, newline terminated.
func Render(s progress.Snapshot, styles Styles, bar BarFunc) string {
	var b strings.Builder
	renderTask(&b, s, styles, bar, 0)
	return b.String()
}

func renderTask(b *strings.Builder, s progress.Snapshot, styles Styles, bar BarFunc, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteString(styles.Task.Render(s.Description))
	b.WriteByte(' ')
	b.WriteString(styles.status(s.Status).Render("[" + s.Status + "]"))

	if s.RelativeProgress != progress.UnknownRelativeProgress {
		if bar != nil {
			b.WriteByte(' ')
			b.WriteString(bar(s.RelativeProgress))
		}
		fmt.Fprintf(b, " %3d%%", int(s.RelativeProgress*100))
	}
	if s.Volume > 0 {
		fmt.Fprintf(b, " (%d/%d)", s.Progress, s.Volume)
	}
	b.WriteByte('\n')

	if s.Error != "" {
		b.WriteString(indent)
		b.WriteString("  ")
		b.WriteString(styles.Error.Render("error: " + s.Error))
		b.WriteByte('\n')
	}
	for _, c := range s.Children {
		renderTask(b, c, styles, bar, depth+1)
	}
}
