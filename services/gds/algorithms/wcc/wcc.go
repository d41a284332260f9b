// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wcc finds weakly connected components with a concurrent
// union-find.
//
// Every relationship is treated as undirected regardless of the configured
// orientation, so the view is always acquired NATURAL and each relationship
// is unioned once. The component id of a node is the smallest internal id in
// its component.
package wcc

import (
	"sync/atomic"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// Name is the registry name.
const Name = "wcc"

// Config configures component detection.
type Config struct {
	algorithm.BaseConfig `mapstructure:",squash"`

	// Threshold keeps only relationships whose weight is strictly greater.
	// Requires RelationshipWeightProperty.
	Threshold *float64 `mapstructure:"threshold" json:"threshold,omitempty"`
}

// DefaultConfig returns an unweighted config.
func DefaultConfig() Config {
	return Config{BaseConfig: algorithm.BaseConfig{WeightFallback: 1}}
}

func (c Config) Validate() error {
	if err := algorithm.ValidateStruct(Name, c); err != nil {
		return err
	}
	if c.Threshold != nil && c.RelationshipWeightProperty == "" {
		return &algorithm.ConfigError{Algorithm: Name, Field: "threshold", Message: "requires relationship_weight_property"}
	}
	return nil
}

// Result maps each node to its component.
type Result struct {
	Components     []int64 `json:"components"`
	ComponentCount int64   `json:"component_count"`
}

func (r *Result) NodeValues() properties.Values {
	return properties.NewLongValues(r.Components)
}

func (r *Result) Summary() map[string]any {
	sizes := make(map[int64]int64, r.ComponentCount)
	var largest int64
	for _, c := range r.Components {
		sizes[c]++
		largest = max(largest, sizes[c])
	}
	return map[string]any{
		"node_count":             len(r.Components),
		"component_count":        r.ComponentCount,
		"largest_component_size": largest,
	}
}

// Input is the natural adjacency with optional weights.
type Input struct {
	NodeCount int64
	Neighbors algorithm.NeighborFunc
	Weights   algorithm.WeightFunc
	Threshold *float64
}

// Algorithm is the storage side.
type Algorithm struct{}

func (Algorithm) Name() string { return Name }

func (Algorithm) Acquire(store graph.GraphStore, cfg Config) (graph.Graph, error) {
	return store.Graph(cfg.RelationshipTypes, topology.Natural, cfg.ViewOptions()...)
}

func (Algorithm) Build(ec *algorithm.ExecutionContext, g graph.Graph, cfg Config) (Input, error) {
	weighted := cfg.Threshold != nil
	adj, err := algorithm.BuildAdjacency(ec, g, algorithm.AdjacencyOptions{
		ExcludeSelfLoops: true,
		Weighted:         weighted,
		Fallback:         cfg.WeightFallback,
	})
	if err != nil {
		return Input{}, err
	}
	in := Input{NodeCount: adj.NodeCount(), Neighbors: adj.NeighborFunc(), Threshold: cfg.Threshold}
	if weighted {
		in.Weights = adj.WeightFunc()
	}
	return in, nil
}

func (Algorithm) Computation(Config) algorithm.Computation[Input, *Result] {
	return algorithm.ComputationFunc[Input, *Result](compute)
}

func (Algorithm) Empty(Config) *Result {
	return &Result{Components: []int64{}}
}

func compute(ec *algorithm.ExecutionContext, in Input) (*Result, error) {
	dsu := newDisjointSets(in.NodeCount)

	ec.Progress.SetVolume(in.NodeCount)
	err := ec.RunPartitions(ec.Partitions(in.NodeCount), func(_ int, p concurrency.Partition) error {
		if err := ec.AssertRunning(); err != nil {
			return err
		}
		for node := p.Start; node < p.End(); node++ {
			var weights []float64
			if in.Weights != nil {
				weights = in.Weights(node)
			}
			for j, target := range in.Neighbors(node) {
				if weights != nil && weights[j] <= *in.Threshold {
					continue
				}
				dsu.union(node, target)
			}
		}
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Components: make([]int64, in.NodeCount)}
	for node := range in.NodeCount {
		root := dsu.find(node)
		res.Components[node] = root
		if root == node {
			res.ComponentCount++
		}
	}
	return res, nil
}

// ============================================================================
// Disjoint sets
// ============================================================================

// disjointSets is a lock-free union-find. A root is only ever linked below a
// smaller root, so every root is the minimum of its set.
type disjointSets struct {
	parent []atomic.Int64
}

func newDisjointSets(n int64) *disjointSets {
	d := &disjointSets{parent: make([]atomic.Int64, n)}
	for i := range d.parent {
		d.parent[i].Store(int64(i))
	}
	return d
}

// find returns the root of x, halving the path as it goes. A failed CAS only
// means another goroutine already shortened the path.
func (d *disjointSets) find(x int64) int64 {
	for {
		p := d.parent[x].Load()
		if p == x {
			return x
		}
		gp := d.parent[p].Load()
		if gp != p {
			d.parent[x].CompareAndSwap(p, gp)
		}
		x = p
	}
}

func (d *disjointSets) union(a, b int64) {
	for {
		ra, rb := d.find(a), d.find(b)
		if ra == rb {
			return
		}
		if ra < rb {
			ra, rb = rb, ra
		}
		if d.parent[ra].CompareAndSwap(ra, rb) {
			return
		}
	}
}

// Run is algorithm.Run for weakly connected components.
func Run(ec *algorithm.ExecutionContext, store graph.GraphStore, cfg Config) (*Result, error) {
	return algorithm.Run[Config, Input, *Result](ec, store, Algorithm{}, cfg)
}
