// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog is the named registry of graph stores.
//
// A Catalog is an explicit object; there is no process-wide instance.
// Entries are reference counted so a graph that is being read by a job
// cannot be dropped from under it. Replacing a graph publishes a new
// snapshot; holders of the previous entry keep reading the old store
// until they release it.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
)

// BuildFunc produces a graph store for LoadOrBuild.
type BuildFunc func(ctx context.Context) (*graph.Store, error)

// Catalog maps names to published graph snapshots.
//
// Features:
//
//   - Reference counting, so Drop refuses graphs in use unless forced
//   - Singleflight deduplication of concurrent builds for the same name
//   - Error caching, so a failing build is not retried on every call
//   - Snapshot publishing for mutate-then-publish updates
//
// Thread Safety:
//
//	Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	sfGroup singleflight.Group

	failedMu     sync.RWMutex
	failedBuilds map[string]*failedBuild

	opts   Options
	logger *slog.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	buildCount   atomic.Int64
	publishCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates an empty catalog.
//
// Inputs:
//
//	logger - Logger for catalog events. Nil uses slog.Default().
//	opts - Optional configuration.
func New(logger *slog.Logger, opts ...Option) *Catalog {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		entries:      make(map[string]*Entry),
		failedBuilds: make(map[string]*failedBuild),
		opts:         options,
		logger:       logger.With(slog.String("component", "catalog")),
	}
}

// Put registers a new graph under its store name.
//
// Outputs:
//
//	error - ErrGraphExists if the name is taken, ErrCatalogFull when the
//	        catalog is at capacity.
func (c *Catalog) Put(store *graph.Store) error {
	if store == nil {
		return fmt.Errorf("catalog: nil store")
	}
	name := store.Name()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrGraphExists, name)
	}
	if c.opts.MaxEntries > 0 && len(c.entries) >= c.opts.MaxEntries {
		return fmt.Errorf("%w: %d graphs", ErrCatalogFull, c.opts.MaxEntries)
	}
	c.entries[name] = &Entry{Name: name, Store: store, PublishedAt: time.Now()}

	c.logger.Info("graph registered",
		slog.String("graph", name),
		slog.Int64("nodes", store.NodeCount()),
		slog.Int64("relationships", store.RelationshipCount()),
	)
	return nil
}

// Get retrieves a graph and takes a reference to it.
//
// Outputs:
//
//	*Entry - The current snapshot.
//	func() - Release function. Must be called when done, typically via defer.
//	error - ErrGraphNotFound for unknown names.
func (c *Catalog) Get(name string) (*Entry, func(), error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	if ok {
		// Acquire under the read lock so Drop observes the reference.
		entry.Acquire()
	}
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		recordLookup(context.Background(), false)
		return nil, nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	c.hits.Add(1)
	recordLookup(context.Background(), true)
	return entry, releaseOnce(entry), nil
}

// LoadOrBuild returns the named graph, building and registering it if
// absent. Concurrent calls for the same name share one build.
//
// Inputs:
//
//	ctx - Context for the build. The shared build runs under the first
//	      caller's context.
//	name - Catalog name. The built store must carry the same name.
//	build - Builds the store on a miss.
//
// Outputs:
//
//	*Entry - The snapshot, with a reference held.
//	func() - Release function.
//	error - A *BuildFailedError while a previous failure is cached, or the
//	        build error.
func (c *Catalog) LoadOrBuild(ctx context.Context, name string, build BuildFunc) (*Entry, func(), error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "LoadOrBuild", name)
	defer span.End()

	if entry, release, err := c.Get(name); err == nil {
		span.SetAttributes(attribute.Bool("catalog.hit", true))
		recordGetLatency(ctx, time.Since(start), true)
		return entry, release, nil
	}
	span.SetAttributes(attribute.Bool("catalog.hit", false))

	if failed := c.cachedFailure(name); failed != nil {
		span.RecordError(failed.err)
		span.SetStatus(codes.Error, "cached build failure")
		return nil, nil, &BuildFailedError{Name: name, Err: failed.err, FailedAt: failed.failedAt, RetryAt: failed.retryAt}
	}

	v, err, shared := c.sfGroup.Do(name, func() (any, error) {
		// Another caller may have finished between our miss and here.
		c.mu.RLock()
		existing, ok := c.entries[name]
		c.mu.RUnlock()
		if ok {
			return existing, nil
		}

		c.buildCount.Add(1)
		store, err := build(ctx)
		recordBuild(ctx, err)
		if err == nil && store.Name() != name {
			err = fmt.Errorf("catalog: build for %q produced graph %q", name, store.Name())
		}
		if err != nil {
			c.errorCount.Add(1)
			c.cacheFailure(name, err)
			return nil, err
		}
		if err := c.Put(store); err != nil {
			return nil, err
		}
		c.mu.RLock()
		entry := c.entries[name]
		c.mu.RUnlock()
		return entry, nil
	})
	span.SetAttributes(attribute.Bool("catalog.shared", shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	entry := v.(*Entry)
	entry.Acquire()
	recordGetLatency(ctx, time.Since(start), false)
	return entry, releaseOnce(entry), nil
}

// Publish replaces the named graph with a new snapshot. Holders of the
// previous snapshot are unaffected and still count as references of the
// name, so Drop keeps refusing until they release. The name need not
// exist yet.
func (c *Catalog) Publish(name string, store *graph.Store) error {
	if store == nil {
		return fmt.Errorf("catalog: nil store")
	}
	if store.Name() != name {
		return fmt.Errorf("catalog: cannot publish graph %q as %q", store.Name(), name)
	}

	c.mu.Lock()
	old, exists := c.entries[name]
	if !exists && c.opts.MaxEntries > 0 && len(c.entries) >= c.opts.MaxEntries {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d graphs", ErrCatalogFull, c.opts.MaxEntries)
	}
	entry := &Entry{Name: name, Store: store, PublishedAt: time.Now()}
	if exists {
		entry.Source = old.Source
		entry.superseded = old.stillReferenced()
	}
	c.entries[name] = entry
	c.mu.Unlock()

	c.clearFailure(name)
	c.publishCount.Add(1)
	recordPublish(context.Background())

	attrs := []any{
		slog.String("graph", name),
		slog.Int64("nodes", store.NodeCount()),
		slog.Int64("relationships", store.RelationshipCount()),
	}
	if exists {
		attrs = append(attrs, slog.Int("previous_refs", int(old.LiveRefCount())))
	}
	c.logger.Info("graph published", attrs...)
	return nil
}

// SetSource records where a graph was loaded from, such as a manifest path.
func (c *Catalog) SetSource(name, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[name]; ok {
		e.Source = source
	}
}

// Drop removes a graph.
//
// Inputs:
//
//	name - The graph to drop.
//	force - Drop even while references are held. Holders keep their
//	        snapshot until they release it.
//
// Outputs:
//
//	*Entry - The removed entry.
//	error - ErrGraphNotFound, or ErrGraphInUse when not forced.
func (c *Catalog) Drop(name string, force bool) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	refs := entry.LiveRefCount()
	if refs > 0 && !force {
		return nil, fmt.Errorf("%w: %s has %d references", ErrGraphInUse, name, refs)
	}
	delete(c.entries, name)
	c.clearFailure(name)

	c.logger.Info("graph dropped",
		slog.String("graph", name),
		slog.Bool("forced", force),
		slog.Int("refs", int(refs)),
	)
	return entry, nil
}

// List returns summaries of all graphs sorted by name.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	slices.SortFunc(entries, func(a, b *Entry) int { return strings.Compare(a.Name, b.Name) })
	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = e.Summary()
	}
	return out
}

// Describe returns the summary of one graph without taking a reference.
func (c *Catalog) Describe(name string) (Summary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[name]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	return entry.Summary(), nil
}

// Names returns the graph names sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Stats returns catalog statistics.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	var mem int64
	for _, e := range c.entries {
		mem += e.EstimatedMemoryBytes()
	}
	count := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		EntryCount:           count,
		Hits:                 c.hits.Load(),
		Misses:               c.misses.Load(),
		BuildCount:           c.buildCount.Load(),
		PublishCount:         c.publishCount.Load(),
		ErrorCount:           c.errorCount.Load(),
		MaxEntries:           c.opts.MaxEntries,
		EstimatedMemoryBytes: mem,
	}
}

// ============================================================================
// Error cache
// ============================================================================

func (c *Catalog) cachedFailure(name string) *failedBuild {
	c.failedMu.RLock()
	failed, ok := c.failedBuilds[name]
	c.failedMu.RUnlock()
	if !ok {
		return nil
	}
	if time.Now().After(failed.retryAt) {
		c.clearFailure(name)
		return nil
	}
	return failed
}

func (c *Catalog) cacheFailure(name string, err error) {
	now := time.Now()
	c.failedMu.Lock()
	c.failedBuilds[name] = &failedBuild{err: err, failedAt: now, retryAt: now.Add(c.opts.ErrorCacheTTL)}
	c.failedMu.Unlock()

	c.logger.Warn("graph build failed",
		slog.String("graph", name),
		slog.String("error", err.Error()),
		slog.Duration("retry_after", c.opts.ErrorCacheTTL),
	)
}

func (c *Catalog) clearFailure(name string) {
	c.failedMu.Lock()
	delete(c.failedBuilds, name)
	c.failedMu.Unlock()
}

// releaseOnce guards against double release.
func releaseOnce(entry *Entry) func() {
	var once sync.Once
	return func() { once.Do(entry.Release) }
}
