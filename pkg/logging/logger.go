// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog loggers used by the GDS binaries.
//
// The logging system is built on the standard library slog package, with
// multi-destination output:
//
//	┌───────────────────────────────────────────┐
//	│                  Logger                   │
//	│  ┌──────────────┐    ┌─────────────────┐  │
//	│  │    stderr    │    │    log file     │  │
//	│  │ (text/json)  │    │ (json, daily)   │  │
//	│  └──────────────┘    └─────────────────┘  │
//	└───────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger, err := logging.New(logging.Config{Level: "info", Service: "gds"})
//	if err != nil { ... }
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Formats
//
// "text" and "json" select the stderr format directly. "auto" (the default)
// writes text when stderr is a terminal and JSON otherwise, so interactive
// runs stay readable while piped or containerized runs stay parseable.
// File logs are always JSON.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Format names accepted by Config.Format.
const (
	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"
)

// Config configures a Logger.
//
// A zero Config writes Info and above to stderr in auto format.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	// Default: info
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// Format is auto, text or json. Default: auto
	Format string `mapstructure:"format" validate:"omitempty,oneof=auto text json"`

	// Dir enables file logging. Files are named {service}_{YYYY-MM-DD}.log
	// and written as JSON. Supports ~ expansion.
	Dir string `mapstructure:"dir"`

	// Service is added to every record as the "service" attribute.
	Service string `mapstructure:"service"`

	// Quiet disables the stderr destination.
	Quiet bool `mapstructure:"quiet"`

	// Output replaces stderr. Used by tests.
	Output io.Writer `mapstructure:"-"`
}

// ParseLevel converts a level name into a slog.Level.
//
// Outputs:
//
//	slog.Level - The level. Empty input is Info.
//	error - Non-nil for unknown names.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger owns the handlers and file behind a slog.Logger.
type Logger struct {
	slog *slog.Logger
	file *os.File
	path string
	mu   sync.Mutex
}

// New creates a Logger from cfg.
//
// Outputs:
//
//	*Logger - Ready to use. Call Close to flush and close the log file.
//	error - Non-nil for an invalid level or format, or if the log file
//	        cannot be opened.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var handlers []slog.Handler
	if !cfg.Quiet {
		json, err := useJSON(cfg.Format, out)
		if err != nil {
			return nil, err
		}
		if json {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{}
	if cfg.Dir != "" {
		dir := expandPath(cfg.Dir)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
		service := cfg.Service
		if service == "" {
			service = "gds"
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		logger.file = file
		logger.path = path
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}
	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}
	logger.slog = slog.New(handler)
	return logger, nil
}

// useJSON resolves the stderr format.
func useJSON(format string, out io.Writer) (bool, error) {
	switch strings.ToLower(format) {
	case "", FormatAuto:
		f, ok := out.(*os.File)
		if !ok {
			return true, nil
		}
		fd := f.Fd()
		return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd), nil
	case FormatText:
		return false, nil
	case FormatJSON:
		return true, nil
	default:
		return false, fmt.Errorf("unknown log format %q", format)
	}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// FilePath returns the log file path, or "" without file logging.
func (l *Logger) FilePath() string {
	return l.path
}

// Close syncs and closes the log file. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return fmt.Errorf("sync log file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close log file: %w", closeErr)
	}
	return nil
}

// =============================================================================
// Multi-Handler
// =============================================================================

// multiHandler fans records out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
