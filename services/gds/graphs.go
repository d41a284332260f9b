// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/generator"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/loader"
)

// LoadRequest loads a manifest-backed graph.
type LoadRequest struct {
	// Manifest is the path of the manifest YAML on the server.
	Manifest string `json:"manifest" binding:"required"`

	// Watch reloads the graph when the manifest or its local sources
	// change.
	Watch bool `json:"watch,omitempty"`

	// Replace publishes over an existing graph of the same name.
	Replace bool `json:"replace,omitempty"`
}

// SubgraphRequest induces a new graph from an existing one.
type SubgraphRequest struct {
	// Name is the catalog name of the new graph.
	Name string `json:"name" binding:"required"`

	// NodeIDs selects nodes by original id.
	NodeIDs []int64 `json:"node_ids,omitempty"`

	// Filter selects nodes by a CEL expression over node properties.
	Filter string `json:"filter,omitempty"`
}

// SubgraphResponse describes an induced graph.
type SubgraphResponse struct {
	Graph                   catalog.Summary  `json:"graph"`
	RelationshipsKeptByType map[string]int64 `json:"relationships_kept_by_type"`
}

// GraphManager loads, generates, induces and drops catalog graphs.
//
// Description:
//
//	Watched graphs live until Drop or Close; their watchers run under the
//	manager's own context, not under the request that created them.
//
// Thread Safety:
//
//	Safe for concurrent use.
type GraphManager struct {
	catalog  *catalog.Catalog
	loader   *loader.Loader
	executor *concurrency.Executor
	debounce time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*catalog.Watcher
}

// NewGraphManager creates a graph manager.
//
// Inputs:
//
//	cat - The catalog graphs are published to.
//	ld - Manifest loader. Nil uses loader.New() with local sources only.
//	exec - Executor attached to generated graphs. May be nil.
//	debounce - Quiet period of watched graphs. Zero uses the catalog default.
//	logger - Logger. Nil uses slog.Default().
func NewGraphManager(cat *catalog.Catalog, ld *loader.Loader, exec *concurrency.Executor, debounce time.Duration, logger *slog.Logger) *GraphManager {
	if logger == nil {
		logger = slog.Default()
	}
	if ld == nil {
		ld = loader.New(loader.WithLogger(logger))
	}
	if debounce <= 0 {
		debounce = catalog.DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &GraphManager{
		catalog:  cat,
		loader:   ld,
		executor: exec,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "graph_manager")),
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[string]*catalog.Watcher),
	}
}

// Load reads the manifest at req.Manifest into the catalog.
//
// Outputs:
//
//	catalog.Summary - The published graph.
//	error - loader errors, catalog.ErrGraphExists without Replace, or
//	  catalog.ErrCatalogFull.
func (g *GraphManager) Load(ctx context.Context, req LoadRequest) (catalog.Summary, error) {
	path, err := filepath.Abs(req.Manifest)
	if err != nil {
		return catalog.Summary{}, fmt.Errorf("%w: %v", loader.ErrSource, err)
	}
	m, err := loader.ReadManifest(path)
	if err != nil {
		if errors.Is(err, loader.ErrInvalidManifest) {
			return catalog.Summary{}, err
		}
		return catalog.Summary{}, fmt.Errorf("%w: %v", loader.ErrSource, err)
	}

	if req.Watch {
		return g.watch(m.Name, path, req.Replace)
	}

	if !req.Replace {
		if _, err := g.catalog.Describe(m.Name); err == nil {
			return catalog.Summary{}, fmt.Errorf("%w: %s", catalog.ErrGraphExists, m.Name)
		}
	}
	store, err := g.loader.Load(ctx, m, filepath.Dir(path), nil)
	if err != nil {
		return catalog.Summary{}, err
	}
	if req.Replace {
		err = g.catalog.Publish(m.Name, store)
	} else {
		err = g.catalog.Put(store)
	}
	if err != nil {
		return catalog.Summary{}, err
	}
	g.catalog.SetSource(m.Name, path)
	return g.catalog.Describe(m.Name)
}

func (g *GraphManager) watch(name, path string, replace bool) (catalog.Summary, error) {
	if !replace {
		if _, err := g.catalog.Describe(name); err == nil {
			return catalog.Summary{}, fmt.Errorf("%w: %s", catalog.ErrGraphExists, name)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.watchers[name]; ok {
		old.Stop()
		delete(g.watchers, name)
	}

	w, err := g.catalog.Watch(g.ctx, name, path,
		catalog.WithDebounce(g.debounce),
		catalog.WithReloadFunc(func(ctx context.Context, manifestPath string) (*graph.Store, error) {
			return g.loader.LoadFile(ctx, manifestPath, nil)
		}),
	)
	if err != nil {
		return catalog.Summary{}, err
	}
	g.watchers[name] = w
	return g.catalog.Describe(name)
}

// Generate builds a random graph and adds it to the catalog.
func (g *GraphManager) Generate(ctx context.Context, cfg generator.Config) (catalog.Summary, error) {
	opts := []generator.Option{generator.WithLogger(g.logger)}
	if g.executor != nil {
		opts = append(opts, generator.WithStoreOptions(graph.WithExecutor(g.executor)))
	}
	store, err := generator.Generate(ctx, cfg, opts...)
	if err != nil {
		return catalog.Summary{}, err
	}
	if err := g.catalog.Put(store); err != nil {
		return catalog.Summary{}, err
	}
	return g.catalog.Describe(cfg.Name)
}

// Subgraph induces req.Name from source by node ids or a CEL filter.
//
// Outputs:
//
//	*SubgraphResponse - The new graph and surviving relationship counts.
//	error - ErrInvalidSelection, graph.ErrInvalidFilter,
//	  graph.ErrUnknownNodeID or catalog errors.
func (g *GraphManager) Subgraph(ctx context.Context, source string, req SubgraphRequest) (*SubgraphResponse, error) {
	if (req.Filter == "") == (req.NodeIDs == nil) {
		return nil, ErrInvalidSelection
	}
	if _, err := g.catalog.Describe(req.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrGraphExists, req.Name)
	}

	entry, release, err := g.catalog.Get(source)
	if err != nil {
		return nil, err
	}
	defer release()

	var res *graph.InductionResult
	if req.Filter != "" {
		filter, ferr := graph.CompileNodeFilter(req.Filter)
		if ferr != nil {
			return nil, ferr
		}
		res, err = entry.Store.InduceByFilter(ctx, req.Name, filter)
	} else {
		res, err = entry.Store.CommitInducedSubgraphByOriginalNodeIDs(ctx, req.Name, req.NodeIDs)
	}
	if err != nil {
		return nil, err
	}
	if err := g.catalog.Put(res.Store); err != nil {
		return nil, err
	}

	summary, err := g.catalog.Describe(req.Name)
	if err != nil {
		return nil, err
	}
	g.logger.Info("subgraph induced",
		slog.String("source", source),
		slog.String("graph", req.Name),
		slog.Int64("nodes", summary.NodeCount),
		slog.Int64("relationships", summary.RelationshipCount),
	)
	return &SubgraphResponse{Graph: summary, RelationshipsKeptByType: res.RelationshipsKeptByType}, nil
}

// Drop removes a graph and stops its watcher.
func (g *GraphManager) Drop(name string, force bool) (catalog.Summary, error) {
	entry, err := g.catalog.Drop(name, force)
	if err != nil {
		return catalog.Summary{}, err
	}
	g.mu.Lock()
	if w, ok := g.watchers[name]; ok {
		w.Stop()
		delete(g.watchers, name)
	}
	g.mu.Unlock()
	return entry.Summary(), nil
}

// Watching returns the number of watched graphs.
func (g *GraphManager) Watching() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.watchers)
}

// Close stops every watcher.
func (g *GraphManager) Close() {
	g.cancel()
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, w := range g.watchers {
		w.Stop()
		delete(g.watchers, name)
	}
}
