// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package termination

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// RegisterOptions configures a registered flag.
type RegisterOptions struct {
	// Deadline stops the flag with ReasonTimeout once passed. Zero disables.
	Deadline time.Time

	// ProgressInterval is how often the job is expected to report progress.
	// Zero disables stall detection for this job.
	ProgressInterval time.Duration
}

// Status is a point-in-time view of a registered flag.
type Status struct {
	ID           string    `json:"id"`
	Running      bool      `json:"running"`
	Reason       string    `json:"reason,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastProgress time.Time `json:"last_progress"`
}

type entry struct {
	id           string
	flag         *StopFlag
	opts         RegisterOptions
	registeredAt time.Time
	lastProgress atomic.Int64
}

// Registry tracks the stop flags of running jobs.
//
// Description:
//
//	One Registry is created per process (or per test) and passed to the
//	components that start jobs. It is not a global.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(slog.String("component", "termination_registry")),
	}
}

// Register creates a running flag under id.
//
// Outputs:
//
//	*StopFlag - The new flag.
//	error - ErrDuplicateFlag when id is already registered.
func (r *Registry) Register(id string, opts RegisterOptions) (*StopFlag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateFlag, id)
	}
	e := &entry{id: id, flag: NewStopFlag(), opts: opts, registeredAt: time.Now()}
	e.lastProgress.Store(e.registeredAt.UnixMilli())
	r.entries[id] = e
	return e.flag, nil
}

// Get returns the flag under id.
func (r *Registry) Get(id string) (*StopFlag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.flag, true
}

// Stop stops the flag under id.
func (r *Registry) Stop(id string, reason Reason, message string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrFlagNotFound, id)
	}
	if e.flag.Stop(reason, message) {
		r.logger.Info("job stopped",
			slog.String("id", id),
			slog.String("reason", reason.String()),
			slog.String("message", message),
		)
	}
	return nil
}

// StopAll stops every registered flag and returns how many transitioned.
func (r *Registry) StopAll(reason Reason, message string) int {
	r.mu.RLock()
	entries := slices.Collect(maps.Values(r.entries))
	r.mu.RUnlock()

	stopped := 0
	for _, e := range entries {
		if e.flag.Stop(reason, message) {
			stopped++
		}
	}
	if stopped > 0 {
		r.logger.Info("stopped all jobs",
			slog.Int("count", stopped),
			slog.String("reason", reason.String()),
		)
	}
	return stopped
}

// Release forgets id. The flag itself is unaffected.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Heartbeat records progress for id. Unknown ids are ignored.
func (r *Registry) Heartbeat(id string) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		e.lastProgress.Store(time.Now().UnixMilli())
	}
}

// Status returns the status of id.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrFlagNotFound, id)
	}
	return e.status(), nil
}

// List returns the status of every registered flag, ordered by id.
func (r *Registry) List() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Status) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of registered flags.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (e *entry) status() Status {
	s := Status{
		ID:           e.id,
		Running:      e.flag.Running(),
		RegisteredAt: e.registeredAt,
		LastProgress: time.UnixMilli(e.lastProgress.Load()),
	}
	if reason, ok := e.flag.Reason(); ok {
		s.Reason = reason.String()
	}
	return s
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Values(r.entries))
}
