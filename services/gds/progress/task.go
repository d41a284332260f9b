// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package progress accounts for the work of long-running computations as a
// tree of tasks.
//
// # Tasks
//
// A Task has a description, a volume (expected work units, possibly
// unknown), logged progress and children. Its status moves
// NotStarted -> Running -> {Finished, Failed}. A task with children reports
// the sum of its children's progress and volume. Displayed progress is
// clamped to the volume, since volumes are estimates and real work can
// overshoot.
//
// # Trackers
//
// A Tracker walks a task tree: BeginSubTask descends into the next child,
// LogProgress credits the current task, EndSubTask returns to the parent.
// Begin and End are called from the goroutine driving the computation;
// LogProgress may be called from workers.
//
// # Observers
//
// Trackers publish events to observers: a throttled slog progress logger,
// the TaskRegistry that streams snapshots to subscribers, and heartbeats
// for stall detection.
package progress

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// UnknownVolume marks a task whose amount of work is not known.
const UnknownVolume int64 = -1

// UnknownRelativeProgress is reported when the volume is unknown and the
// task has not finished.
const UnknownRelativeProgress float64 = -1

// Status is the lifecycle state of a task.
type Status int32

const (
	// NotStarted is the initial state.
	NotStarted Status = iota
	// Running means the task has begun and not ended.
	Running
	// Finished means the task ended normally.
	Finished
	// Failed means the task ended with an error.
	Failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Finished:
		return "FINISHED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the status is Finished or Failed.
func (s Status) IsTerminal() bool {
	return s == Finished || s == Failed
}

// Task is one node of a progress tree.
//
// Thread Safety:
//
//	Safe for concurrent use. Progress and volume are atomics; structure and
//	status are guarded by a mutex.
type Task struct {
	description string
	parent      *Task

	volume   atomic.Int64
	progress atomic.Int64
	status   atomic.Int32

	mu         sync.RWMutex
	children   []*Task
	startedAt  time.Time
	finishedAt time.Time
	err        error
}

// NewTask declares a task with pre-declared children.
func NewTask(description string, volume int64, children ...*Task) *Task {
	t := &Task{description: description}
	t.volume.Store(volume)
	for _, c := range children {
		c.parent = t
	}
	t.children = children
	return t
}

// Leaf declares a task without children.
func Leaf(description string, volume int64) *Task {
	return NewTask(description, volume)
}

// Description returns the task name.
func (t *Task) Description() string {
	return t.description
}

// Parent returns the parent task, or nil for a root.
func (t *Task) Parent() *Task {
	return t.parent
}

// Path returns the descriptions from the root to t joined by " :: ".
func (t *Task) Path() string {
	var parts []string
	for cur := t; cur != nil; cur = cur.parent {
		parts = append(parts, cur.description)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " :: ")
}

// Status returns the lifecycle state.
func (t *Task) Status() Status {
	return Status(t.status.Load())
}

// Children returns a copy of the child list.
func (t *Task) Children() []*Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Task, len(t.children))
	copy(out, t.children)
	return out
}

// Err returns the failure cause of a Failed task.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// StartedAt returns when the task started, or the zero time.
func (t *Task) StartedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt
}

// FinishedAt returns when the task ended, or the zero time.
func (t *Task) FinishedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finishedAt
}

// Start moves a NotStarted task to Running. Other states are unchanged.
func (t *Task) Start() bool {
	if !t.status.CompareAndSwap(int32(NotStarted), int32(Running)) {
		return false
	}
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
	return true
}

// Finish moves a Running task to Finished.
func (t *Task) Finish() bool {
	if !t.status.CompareAndSwap(int32(Running), int32(Finished)) {
		return false
	}
	t.mu.Lock()
	t.finishedAt = time.Now()
	t.mu.Unlock()
	return true
}

// Fail moves a NotStarted or Running task to Failed. The counters are left
// as they were.
func (t *Task) Fail(err error) bool {
	for {
		cur := t.Status()
		if cur.IsTerminal() {
			return false
		}
		if t.status.CompareAndSwap(int32(cur), int32(Failed)) {
			break
		}
	}
	t.mu.Lock()
	t.finishedAt = time.Now()
	t.err = err
	t.mu.Unlock()
	return true
}

// SetVolume replaces the volume estimate.
func (t *Task) SetVolume(volume int64) {
	t.volume.Store(volume)
}

// LogProgress adds units to the task's raw counter.
func (t *Task) LogProgress(units int64) {
	t.progress.Add(units)
}

// RawProgress returns the unclamped logged units of this task alone.
func (t *Task) RawProgress() int64 {
	return t.progress.Load()
}

// NextSubTask returns the first NotStarted child, or nil.
func (t *Task) NextSubTask() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.children {
		if c.Status() == NotStarted {
			return c
		}
	}
	return nil
}

// nextSubTaskNamed returns the first NotStarted child with description d.
func (t *Task) nextSubTaskNamed(d string) *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.children {
		if c.Status() == NotStarted && c.description == d {
			return c
		}
	}
	return nil
}

// addChild appends a new child.
func (t *Task) addChild(description string, volume int64) *Task {
	c := NewTask(description, volume)
	c.parent = t
	t.mu.Lock()
	t.children = append(t.children, c)
	t.mu.Unlock()
	return c
}

func (t *Task) childCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.children)
}

// CurrentProgress returns the clamped progress and the volume.
//
// Description:
//
//	A task with a known volume reports its own counters, whether or not it
//	has children; a finished one reports full progress. A task of unknown
//	volume with children reports the sums over its children, and an
//	unknown volume when any child's volume is unknown.
func (t *Task) CurrentProgress() (progress, volume int64) {
	volume = t.volume.Load()
	children := t.Children()
	if volume != UnknownVolume || len(children) == 0 {
		progress = t.progress.Load()
		if volume != UnknownVolume {
			if t.Status() == Finished || progress > volume {
				progress = volume
			}
		}
		return progress, volume
	}

	volume = 0
	unknown := false
	for _, c := range children {
		cp, cv := c.CurrentProgress()
		progress += cp
		if cv == UnknownVolume {
			unknown = true
			continue
		}
		volume += cv
	}
	if unknown {
		volume = UnknownVolume
	}
	return progress, volume
}

// RelativeProgress returns progress/volume in [0, 1], or
// UnknownRelativeProgress for an unfinished task of unknown volume.
func (t *Task) RelativeProgress() float64 {
	progress, volume := t.CurrentProgress()
	status := t.Status()
	switch {
	case volume == UnknownVolume:
		if status == Finished {
			return 1
		}
		return UnknownRelativeProgress
	case volume == 0:
		if status == Finished {
			return 1
		}
		return 0
	}
	return min(1, float64(progress)/float64(volume))
}

// ==============================================================================
// Snapshot
// ==============================================================================

// Snapshot is an immutable, JSON-friendly copy of a task tree.
type Snapshot struct {
	Description      string     `json:"description"`
	Status           string     `json:"status"`
	Progress         int64      `json:"progress"`
	Volume           int64      `json:"volume"`
	RelativeProgress float64    `json:"relative_progress"`
	Error            string     `json:"error,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	Children         []Snapshot `json:"children,omitempty"`
}

// Snapshot copies the tree rooted at t.
func (t *Task) Snapshot() Snapshot {
	progress, volume := t.CurrentProgress()
	s := Snapshot{
		Description:      t.description,
		Status:           t.Status().String(),
		Progress:         progress,
		Volume:           volume,
		RelativeProgress: t.RelativeProgress(),
	}
	if err := t.Err(); err != nil {
		s.Error = err.Error()
	}
	if at := t.StartedAt(); !at.IsZero() {
		s.StartedAt = &at
	}
	if at := t.FinishedAt(); !at.IsZero() {
		s.FinishedAt = &at
	}
	for _, c := range t.Children() {
		s.Children = append(s.Children, c.Snapshot())
	}
	return s
}
