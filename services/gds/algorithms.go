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
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/algorithms/degree"
	"github.com/AleutianAI/AleutianGDS/services/gds/algorithms/labelprop"
	"github.com/AleutianAI/AleutianGDS/services/gds/algorithms/pagerank"
	"github.com/AleutianAI/AleutianGDS/services/gds/algorithms/scaleproperties"
	"github.com/AleutianAI/AleutianGDS/services/gds/algorithms/trianglecount"
	"github.com/AleutianAI/AleutianGDS/services/gds/algorithms/wcc"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
)

// Invocation runs an algorithm whose configuration is already decoded and
// validated.
type Invocation func(ec *algorithm.ExecutionContext, store graph.GraphStore) (algorithm.Result, error)

// PrepareFunc decodes a raw config map into an Invocation.
type PrepareFunc func(raw map[string]any) (Invocation, error)

// AlgorithmInfo describes a registered algorithm.
type AlgorithmInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type registeredAlgorithm struct {
	info    AlgorithmInfo
	prepare PrepareFunc
}

// Algorithms maps algorithm names to runners.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Algorithms struct {
	mu      sync.RWMutex
	entries map[string]registeredAlgorithm
}

// NewAlgorithms returns an empty registry.
func NewAlgorithms() *Algorithms {
	return &Algorithms{entries: make(map[string]registeredAlgorithm)}
}

// DefaultAlgorithms returns a registry holding every bundled algorithm.
func DefaultAlgorithms() *Algorithms {
	a := NewAlgorithms()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(a.Register(degree.Name, "Weighted or unweighted degree centrality",
		Bind(degree.Name, degree.DefaultConfig, degree.Run)))
	must(a.Register(pagerank.Name, "PageRank by power iteration with sink redistribution",
		Bind(pagerank.Name, pagerank.DefaultConfig, pagerank.Run)))
	must(a.Register(trianglecount.Name, "Per-node and global triangle counts",
		Bind(trianglecount.Name, trianglecount.DefaultConfig, trianglecount.Run)))
	must(a.Register(wcc.Name, "Weakly connected components",
		Bind(wcc.Name, wcc.DefaultConfig, wcc.Run)))
	must(a.Register(labelprop.Name, "Label propagation community detection",
		Bind(labelprop.Name, labelprop.DefaultConfig, labelprop.Run)))
	must(a.Register(scaleproperties.Name, "Min-max scaling of node properties",
		Bind(scaleproperties.Name, scaleproperties.DefaultConfig, scaleproperties.Run)))
	return a
}

// Bind adapts an algorithm package to a PrepareFunc.
//
// Description:
//
//	raw is decoded over defaults() so absent keys keep their defaults,
//	then validated, so configuration errors surface at submission rather
//	than inside a job.
func Bind[C algorithm.Config, R algorithm.Result](
	name string,
	defaults func() C,
	run func(*algorithm.ExecutionContext, graph.GraphStore, C) (R, error),
) PrepareFunc {
	return func(raw map[string]any) (Invocation, error) {
		cfg := defaults()
		if err := algorithm.Decode(name, raw, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return func(ec *algorithm.ExecutionContext, store graph.GraphStore) (algorithm.Result, error) {
			res, err := run(ec, store, cfg)
			if err != nil {
				return nil, err
			}
			return res, nil
		}, nil
	}
}

// Register adds an algorithm.
func (a *Algorithms) Register(name, description string, prepare PrepareFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAlgorithm, name)
	}
	a.entries[name] = registeredAlgorithm{
		info:    AlgorithmInfo{Name: name, Description: description},
		prepare: prepare,
	}
	return nil
}

// Prepare decodes raw for the named algorithm.
//
// Outputs:
//
//	Invocation - Ready to run against a store.
//	error - ErrUnknownAlgorithm, or a *algorithm.ConfigError.
func (a *Algorithms) Prepare(name string, raw map[string]any) (Invocation, error) {
	a.mu.RLock()
	entry, ok := a.entries[name]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, name)
	}
	return entry.prepare(raw)
}

// List returns the registered algorithms sorted by name.
func (a *Algorithms) List() []AlgorithmInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AlgorithmInfo, 0, len(a.entries))
	for _, name := range slices.Sorted(maps.Keys(a.entries)) {
		out = append(out, a.entries[name].info)
	}
	return out
}
