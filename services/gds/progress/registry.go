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
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrTaskNotFound is returned for unknown job ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when a job id is registered twice.
	ErrDuplicateTask = errors.New("task already registered")
)

// subscriberBuffer is the number of snapshots a slow subscriber may lag
// before snapshots are dropped for it.
const subscriberBuffer = 16

type registryEntry struct {
	root      *Task
	sometimes *rate.Sometimes

	mu     sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
	closed bool
}

// TaskRegistry holds the task trees of running jobs and streams snapshots
// of them to subscribers.
//
// Thread Safety:
//
//	Safe for concurrent use.
type TaskRegistry struct {
	interval time.Duration

	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewTaskRegistry creates a registry that publishes progress snapshots at
// most once per interval per job. Lifecycle events are always published.
func NewTaskRegistry(interval time.Duration) *TaskRegistry {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &TaskRegistry{interval: interval, entries: make(map[string]*registryEntry)}
}

// Register adds the tree of jobID.
func (r *TaskRegistry) Register(jobID string, root *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[jobID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, jobID)
	}
	r.entries[jobID] = &registryEntry{
		root:      root,
		sometimes: &rate.Sometimes{Interval: r.interval},
		subs:      make(map[int]chan Snapshot),
	}
	return nil
}

// Get returns the root task of jobID.
func (r *TaskRegistry) Get(jobID string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobID]
	if !ok {
		return nil, false
	}
	return e.root, true
}

// IDs returns the registered job ids, sorted.
func (r *TaskRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// Unregister removes jobID. Subscribers receive a final snapshot and their
// channels are closed.
func (r *TaskRegistry) Unregister(jobID string) {
	r.mu.Lock()
	e, ok := r.entries[jobID]
	delete(r.entries, jobID)
	r.mu.Unlock()
	if !ok {
		return
	}

	final := e.root.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, ch := range e.subs {
		select {
		case ch <- final:
		default:
		}
		close(ch)
		delete(e.subs, id)
	}
}

// Subscribe streams snapshots of jobID. The current snapshot is delivered
// first. The returned cancel func must be called when the subscriber
// leaves before the job is unregistered.
func (r *TaskRegistry) Subscribe(jobID string) (<-chan Snapshot, func(), error) {
	r.mu.RLock()
	e, ok := r.entries[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, jobID)
	}

	ch := make(chan Snapshot, subscriberBuffer)
	ch <- e.root.Snapshot()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Observer returns an Observer publishing snapshots of jobID's tree.
func (r *TaskRegistry) Observer(jobID string) Observer {
	return ObserverFunc(func(ev Event) {
		r.mu.RLock()
		e, ok := r.entries[jobID]
		r.mu.RUnlock()
		if !ok {
			return
		}
		switch ev.Kind {
		case EventProgress:
			e.sometimes.Do(e.broadcast)
		case EventMessage:
		default:
			e.broadcast()
		}
	})
}

func (e *registryEntry) broadcast() {
	snap := e.root.Snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
