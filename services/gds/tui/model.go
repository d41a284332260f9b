// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui renders a running job's task tree in the terminal.
//
// # Description
//
// The model polls the root task of a job at a fixed interval and draws one
// line per task with a progress bar. It quits on its own once the root
// task finishes or fails. Pressing q asks the job to stop; pressing it
// again leaves without waiting.
//
// # Thread Safety
//
// The model is used from the bubbletea event loop only. The poll and
// cancel functions it is given are called from that loop and must be safe
// to call concurrently with the job.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	pbar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
)

// DefaultInterval is the default poll interval.
const DefaultInterval = 100 * time.Millisecond

const (
	defaultBarWidth = 30
	maxBarWidth     = 60
)

// =============================================================================
// Messages
// =============================================================================

type tickMsg time.Time

// =============================================================================
// Config
// =============================================================================

// Config configures the progress view.
type Config struct {
	// Title is shown above the tree.
	Title string

	// Poll returns the current task tree. Required.
	Poll func() progress.Snapshot

	// Cancel asks the job to stop. Nil disables cancellation.
	Cancel func()

	// Interval between polls. Zero uses DefaultInterval.
	Interval time.Duration

	// Styles. The zero value uses DefaultStyles.
	Styles *Styles
}

var (
	cancelKey = key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "cancel job"),
	)
)

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model of the progress view.
type Model struct {
	title    string
	poll     func() progress.Snapshot
	cancel   func()
	interval time.Duration
	styles   Styles
	bar      pbar.Model

	snapshot   progress.Snapshot
	cancelling bool
	aborted    bool
	done       bool
}

// NewModel creates a progress view.
func NewModel(cfg Config) Model {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	styles := DefaultStyles()
	if cfg.Styles != nil {
		styles = *cfg.Styles
	}
	m := Model{
		title:    cfg.Title,
		poll:     cfg.Poll,
		cancel:   cfg.Cancel,
		interval: interval,
		styles:   styles,
		bar:      pbar.New(pbar.WithDefaultGradient(), pbar.WithWidth(defaultBarWidth), pbar.WithoutPercentage()),
	}
	m.snapshot = m.poll()
	m.done = isTerminal(m.snapshot)
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width/3, 10), maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		if !key.Matches(msg, cancelKey) {
			return m, nil
		}
		if m.cancelling || m.cancel == nil {
			m.aborted = true
			return m, tea.Quit
		}
		m.cancelling = true
		m.cancel()
		return m, nil

	case tickMsg:
		m.snapshot = m.poll()
		if isTerminal(m.snapshot) {
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	if m.title != "" {
		b.WriteString(m.styles.Title.Render(m.title))
		b.WriteString("\n\n")
	}
	b.WriteString(Render(m.snapshot, m.styles, m.bar.ViewAs))
	b.WriteByte('\n')
	b.WriteString(m.styles.Help.Render(m.footer()))
	b.WriteByte('\n')
	return b.String()
}

func (m Model) footer() string {
	switch {
	case m.done:
		return fmt.Sprintf("%s %s", m.snapshot.Description, strings.ToLower(m.snapshot.Status))
	case m.cancelling:
		return "cancelling, press q again to leave without waiting"
	case m.cancel == nil:
		return "q quit"
	default:
		help := cancelKey.Help()
		return help.Key + " " + help.Desc
	}
}

// Snapshot returns the last polled tree.
func (m Model) Snapshot() progress.Snapshot { return m.snapshot }

// Done reports whether the root task reached a terminal status.
func (m Model) Done() bool { return m.done }

// Aborted reports whether the user left before the job ended.
func (m Model) Aborted() bool { return m.aborted }

func isTerminal(s progress.Snapshot) bool {
	return s.Status == progress.Finished.String() || s.Status == progress.Failed.String()
}

// =============================================================================
// Program
// =============================================================================

// Run shows the progress view until the job ends, the user leaves or ctx
// is done.
//
// Inputs:
//
//	ctx - Stops the program when done.
//	cfg - View configuration.
//	in, out - Terminal streams.
//
// Outputs:
//
//	Model - The final model.
//	error - Non-nil if the program failed.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) (Model, error) {
	p := tea.NewProgram(NewModel(cfg),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
	)
	final, err := p.Run()
	if m, ok := final.(Model); ok {
		return m, err
	}
	return Model{}, err
}
