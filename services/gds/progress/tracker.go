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
	"fmt"
	"log/slog"
	"sync"
)

// Tracker is the write side of progress accounting used by algorithms.
type Tracker interface {
	// BeginSubTask descends into the next pending child of the current
	// task, or a new child when none is pending.
	BeginSubTask()

	// BeginSubTaskWithDescription descends into the next pending child
	// named description, or a new child with that name.
	BeginSubTaskWithDescription(description string)

	// BeginSubTaskWithVolume is BeginSubTask followed by SetVolume.
	BeginSubTaskWithVolume(volume int64)

	// BeginSubTaskWithDescriptionAndVolume combines both variants.
	BeginSubTaskWithDescriptionAndVolume(description string, volume int64)

	// LogProgress credits units to the current task. Safe to call from
	// worker goroutines.
	LogProgress(units int64)

	// EndSubTask finishes the current task and returns to its parent.
	EndSubTask()

	// EndSubTaskWithFailure fails the current task and returns to its
	// parent. The parent's counters are unaffected.
	EndSubTaskWithFailure(err error)

	// SetVolume replaces the current task's volume estimate.
	SetVolume(volume int64)

	// CurrentVolume returns the current task's volume, or UnknownVolume.
	CurrentVolume() int64

	// RelativeProgress returns the current task's relative progress.
	RelativeProgress() float64

	// LogInfo and LogWarning attach messages to the current task's log.
	LogInfo(msg string)
	LogWarning(msg string)
}

// ==============================================================================
// Events
// ==============================================================================

// EventKind classifies tracker events.
type EventKind int

const (
	// EventStarted fires when a task begins.
	EventStarted EventKind = iota
	// EventProgress fires on LogProgress.
	EventProgress
	// EventFinished fires when a task ends normally.
	EventFinished
	// EventFailed fires when a task ends with an error.
	EventFailed
	// EventMessage fires on LogInfo and LogWarning.
	EventMessage
)

// Event is published to observers.
type Event struct {
	Kind    EventKind
	Task    *Task
	Units   int64
	Level   slog.Level
	Message string
	Err     error
}

// Observer receives tracker events. Observe is called synchronously from
// the tracker, possibly from several goroutines, and must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// ==============================================================================
// TaskTracker
// ==============================================================================

// TrackerOption configures a TaskTracker.
type TrackerOption func(*TaskTracker)

// WithObservers adds observers.
func WithObservers(observers ...Observer) TrackerOption {
	return func(t *TaskTracker) {
		t.observers = append(t.observers, observers...)
	}
}

// WithLogger sets the logger used for protocol warnings.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *TaskTracker) {
		t.logger = logger
	}
}

// TaskTracker drives a task tree.
//
// Description:
//
//	The first Begin call starts the root; later ones descend from the
//	current task. Unbalanced End calls are logged and ignored rather than
//	corrupting the tree.
//
// Thread Safety:
//
//	LogProgress is safe from any goroutine. Begin and End calls should come
//	from the goroutine driving the computation; they are serialized by a
//	mutex either way.
type TaskTracker struct {
	root      *Task
	observers []Observer
	logger    *slog.Logger

	mu      sync.Mutex
	current *Task
}

// NewTaskTracker creates a tracker over root.
func NewTaskTracker(root *Task, opts ...TrackerOption) *TaskTracker {
	t := &TaskTracker{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Root returns the tree the tracker drives.
func (t *TaskTracker) Root() *Task {
	return t.root
}

// Current returns the task progress is credited to, or nil.
func (t *TaskTracker) Current() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *TaskTracker) BeginSubTask() {
	t.begin("", false, 0, false)
}

func (t *TaskTracker) BeginSubTaskWithDescription(description string) {
	t.begin(description, true, 0, false)
}

func (t *TaskTracker) BeginSubTaskWithVolume(volume int64) {
	t.begin("", false, volume, true)
}

func (t *TaskTracker) BeginSubTaskWithDescriptionAndVolume(description string, volume int64) {
	t.begin(description, true, volume, true)
}

func (t *TaskTracker) begin(description string, named bool, volume int64, hasVolume bool) {
	t.mu.Lock()
	var next *Task
	switch {
	case t.current == nil && t.root.Status() == NotStarted:
		next = t.root
		if named && description != t.root.description {
			t.logger.Debug("root task begun under a different name",
				slog.String("root", t.root.description),
				slog.String("requested", description),
			)
		}
	case t.current == nil:
		t.mu.Unlock()
		t.logger.Warn("begin after the root task ended", slog.String("root", t.root.description))
		return
	case named:
		next = t.current.nextSubTaskNamed(description)
		if next == nil {
			next = t.current.addChild(description, UnknownVolume)
		}
	default:
		next = t.current.NextSubTask()
		if next == nil {
			next = t.current.addChild(fmt.Sprintf("subtask %d", t.current.childCount()+1), UnknownVolume)
		}
	}
	if hasVolume {
		next.SetVolume(volume)
	}
	next.Start()
	t.current = next
	t.mu.Unlock()

	t.publish(Event{Kind: EventStarted, Task: next})
}

func (t *TaskTracker) LogProgress(units int64) {
	t.mu.Lock()
	cur := t.current
	t.mu.Unlock()
	if cur == nil || units == 0 {
		return
	}
	cur.LogProgress(units)
	t.publish(Event{Kind: EventProgress, Task: cur, Units: units})
}

func (t *TaskTracker) EndSubTask() {
	t.end(nil, false)
}

func (t *TaskTracker) EndSubTaskWithFailure(err error) {
	t.end(err, true)
}

func (t *TaskTracker) end(err error, failed bool) {
	t.mu.Lock()
	cur := t.current
	if cur == nil {
		t.mu.Unlock()
		t.logger.Warn("end without a running task", slog.String("root", t.root.description))
		return
	}
	if cur == t.root {
		t.current = nil
	} else {
		t.current = cur.parent
	}
	t.mu.Unlock()

	if failed {
		cur.Fail(err)
		t.publish(Event{Kind: EventFailed, Task: cur, Err: err})
		return
	}
	cur.Finish()
	t.publish(Event{Kind: EventFinished, Task: cur})
}

func (t *TaskTracker) SetVolume(volume int64) {
	if cur := t.Current(); cur != nil {
		cur.SetVolume(volume)
	}
}

func (t *TaskTracker) CurrentVolume() int64 {
	cur := t.Current()
	if cur == nil {
		return UnknownVolume
	}
	_, volume := cur.CurrentProgress()
	return volume
}

func (t *TaskTracker) RelativeProgress() float64 {
	cur := t.Current()
	if cur == nil {
		return t.root.RelativeProgress()
	}
	return cur.RelativeProgress()
}

func (t *TaskTracker) LogInfo(msg string) {
	t.message(slog.LevelInfo, msg)
}

func (t *TaskTracker) LogWarning(msg string) {
	t.message(slog.LevelWarn, msg)
}

func (t *TaskTracker) message(level slog.Level, msg string) {
	cur := t.Current()
	if cur == nil {
		cur = t.root
	}
	t.publish(Event{Kind: EventMessage, Task: cur, Level: level, Message: msg})
}

func (t *TaskTracker) publish(e Event) {
	for _, o := range t.observers {
		o.Observe(e)
	}
}

// ==============================================================================
// Null
// ==============================================================================

type nullTracker struct{}

// Null returns a tracker that records nothing.
func Null() Tracker {
	return nullTracker{}
}

func (nullTracker) BeginSubTask() {}

func (nullTracker) BeginSubTaskWithDescription(string) {}

func (nullTracker) BeginSubTaskWithVolume(int64) {}

func (nullTracker) BeginSubTaskWithDescriptionAndVolume(string, int64) {}

func (nullTracker) LogProgress(int64) {}

func (nullTracker) EndSubTask() {}

func (nullTracker) EndSubTaskWithFailure(error) {}

func (nullTracker) SetVolume(int64) {}

func (nullTracker) CurrentVolume() int64 { return UnknownVolume }

func (nullTracker) RelativeProgress() float64 { return UnknownRelativeProgress }

func (nullTracker) LogInfo(string) {}

func (nullTracker) LogWarning(string) {}
