// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
)

// Default configuration values.
const (
	// DefaultMaxEntries is the default maximum number of graphs. Zero
	// disables the limit.
	DefaultMaxEntries = 0

	// DefaultErrorCacheTTL is how long build errors are cached.
	DefaultErrorCacheTTL = 5 * time.Second
)

var (
	// ErrGraphNotFound is returned for names not in the catalog.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrGraphExists is returned by Put for a name already in use.
	ErrGraphExists = errors.New("graph already exists")

	// ErrGraphInUse is returned by Drop while references are held.
	ErrGraphInUse = errors.New("graph is in use")

	// ErrCatalogFull is returned when MaxEntries would be exceeded.
	ErrCatalogFull = errors.New("catalog is full")
)

// BuildFailedError is returned by LoadOrBuild while a recent failure of
// the same build is cached.
type BuildFailedError struct {
	Name     string
	Err      error
	FailedAt time.Time
	RetryAt  time.Time
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("building graph %q failed at %s (retry after %s): %v",
		e.Name, e.FailedAt.Format(time.RFC3339), e.RetryAt.Format(time.RFC3339), e.Err)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// Entry is one published snapshot of a named graph.
//
// Thread Safety:
//
//	Safe for concurrent use. The store is immutable from the catalog's
//	point of view; changes are published as a new Entry.
type Entry struct {
	// Name is the catalog name.
	Name string

	// Store is the published snapshot.
	Store *graph.Store

	// PublishedAt is when this snapshot entered the catalog.
	PublishedAt time.Time

	// Source is the manifest path the graph was loaded from, empty for
	// generated and induced graphs.
	Source string

	refCount atomic.Int32

	// superseded holds earlier snapshots of the name that were still
	// referenced when this one was published. Set once at publish.
	superseded []*Entry
}

// Acquire increments the reference count.
//
// Must be paired with a call to Release when done using the entry.
func (e *Entry) Acquire() {
	e.refCount.Add(1)
}

// Release decrements the reference count.
func (e *Entry) Release() {
	e.refCount.Add(-1)
}

// InUse returns true if the entry has active references.
func (e *Entry) InUse() bool {
	return e.refCount.Load() > 0
}

// RefCount returns the current reference count of this snapshot.
func (e *Entry) RefCount() int32 {
	return e.refCount.Load()
}

// LiveRefCount returns the references held on this snapshot and on the
// earlier snapshots it replaced.
func (e *Entry) LiveRefCount() int32 {
	n := e.refCount.Load()
	for _, old := range e.superseded {
		n += old.refCount.Load()
	}
	return n
}

// stillReferenced returns e and the snapshots it replaced that still
// hold references.
func (e *Entry) stillReferenced() []*Entry {
	var out []*Entry
	if e.InUse() {
		out = append(out, e)
	}
	for _, old := range e.superseded {
		if old.InUse() {
			out = append(out, old)
		}
	}
	return out
}

// EstimatedMemoryBytes returns an approximate memory usage for this entry.
//
// Memory Estimation:
//
//   - Per node: ~48 bytes (original id, index map slot)
//   - Per relationship: ~16 bytes (target, relationship index)
//   - Inverse indices and property columns are not counted
//   - Base overhead: ~1KB
func (e *Entry) EstimatedMemoryBytes() int64 {
	const (
		baseOverhead         = 1024
		bytesPerNode         = 48
		bytesPerRelationship = 16
	)
	if e.Store == nil {
		return baseOverhead
	}
	return baseOverhead + e.Store.NodeCount()*bytesPerNode + e.Store.RelationshipCount()*bytesPerRelationship
}

// Summary describes an entry for listings.
type Summary struct {
	Name                 string       `json:"name"`
	NodeCount            int64        `json:"node_count"`
	RelationshipCount    int64        `json:"relationship_count"`
	Schema               graph.Schema `json:"schema"`
	CreatedAt            time.Time    `json:"created_at"`
	PublishedAt          time.Time    `json:"published_at"`
	Source               string       `json:"source,omitempty"`
	References           int32        `json:"references"`
	EstimatedMemoryBytes int64        `json:"estimated_memory_bytes"`
}

// Summary returns the listing view of the entry.
func (e *Entry) Summary() Summary {
	return Summary{
		Name:                 e.Name,
		NodeCount:            e.Store.NodeCount(),
		RelationshipCount:    e.Store.RelationshipCount(),
		Schema:               e.Store.Schema(),
		CreatedAt:            e.Store.CreatedAt(),
		PublishedAt:          e.PublishedAt,
		Source:               e.Source,
		References:           e.LiveRefCount(),
		EstimatedMemoryBytes: e.EstimatedMemoryBytes(),
	}
}

// Stats contains statistics about the catalog.
type Stats struct {
	EntryCount           int   `json:"entry_count"`
	Hits                 int64 `json:"hits"`
	Misses               int64 `json:"misses"`
	BuildCount           int64 `json:"build_count"`
	PublishCount         int64 `json:"publish_count"`
	ErrorCount           int64 `json:"error_count"`
	MaxEntries           int   `json:"max_entries"`
	EstimatedMemoryBytes int64 `json:"estimated_memory_bytes"`
}

// Options configures a Catalog.
type Options struct {
	// MaxEntries is the maximum number of graphs, 0 for no limit.
	MaxEntries int

	// ErrorCacheTTL is how long build errors are cached.
	ErrorCacheTTL time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxEntries:    DefaultMaxEntries,
		ErrorCacheTTL: DefaultErrorCacheTTL,
	}
}

// Option is a functional option for configuring a Catalog.
type Option func(*Options)

// WithMaxEntries sets the maximum number of graphs.
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxEntries = n
		}
	}
}

// WithErrorCacheTTL sets how long build errors are cached.
func WithErrorCacheTTL(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.ErrorCacheTTL = d
		}
	}
}

// failedBuild represents a cached build error.
type failedBuild struct {
	err      error
	failedAt time.Time
	retryAt  time.Time
}
