// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// DefaultLogInterval is the minimum spacing of progress log lines.
const DefaultLogInterval = 2 * time.Second

// Logger is an Observer that writes task lifecycle and progress to slog.
//
// Description:
//
//	Start, finish and failure are always logged. Progress lines are
//	throttled to one per interval. Failures caused by termination are
//	logged at Info, since cancellation is not a defect.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Logger struct {
	logger       *slog.Logger
	sometimes    rate.Sometimes
	isTerminated func(error) bool
}

// NewLogger creates a progress logger.
//
// Inputs:
//
//	logger - Destination. If nil, uses slog.Default().
//	interval - Minimum spacing of progress lines. Zero uses DefaultLogInterval.
//	isTerminated - Classifies failure causes as cancellation. May be nil.
func NewLogger(logger *slog.Logger, interval time.Duration, isTerminated func(error) bool) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultLogInterval
	}
	if isTerminated == nil {
		isTerminated = func(error) bool { return false }
	}
	return &Logger{
		logger:       logger,
		sometimes:    rate.Sometimes{Interval: interval},
		isTerminated: isTerminated,
	}
}

// Observe implements Observer.
func (l *Logger) Observe(e Event) {
	ctx := context.Background()
	task := slog.String("task", e.Task.Path())

	switch e.Kind {
	case EventStarted:
		l.logger.Info("task started", task)
	case EventProgress:
		l.sometimes.Do(func() {
			l.logger.Info("task progress", task, percent(e.Task))
		})
	case EventFinished:
		l.logger.Info("task finished", task, percent(e.Task),
			slog.Duration("elapsed", e.Task.FinishedAt().Sub(e.Task.StartedAt())))
	case EventFailed:
		level := slog.LevelWarn
		if l.isTerminated(e.Err) {
			level = slog.LevelInfo
		}
		l.logger.Log(ctx, level, "task failed", task, slog.Any("error", e.Err))
	case EventMessage:
		l.logger.Log(ctx, e.Level, e.Message, task)
	}
}

func percent(t *Task) slog.Attr {
	rel := t.RelativeProgress()
	if rel == UnknownRelativeProgress {
		return slog.String("progress", "n/a")
	}
	return slog.Int("percent", int(rel*100))
}
