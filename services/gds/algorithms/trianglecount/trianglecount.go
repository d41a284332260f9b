// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trianglecount counts triangles per node and globally over an
// undirected view.
package trianglecount

import (
	"sync/atomic"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// Name is the registry name.
const Name = "trianglecount"

// Config configures triangle counting. Orientation must be UNDIRECTED.
type Config struct {
	algorithm.BaseConfig `mapstructure:",squash"`

	// MaxDegree skips nodes with a larger deduplicated degree. Zero means
	// no limit. Skipped nodes report -1.
	MaxDegree int64 `mapstructure:"max_degree" json:"max_degree" validate:"gte=0"`
}

// DefaultConfig returns an UNDIRECTED config.
func DefaultConfig() Config {
	return Config{BaseConfig: algorithm.BaseConfig{Orientation: topology.Undirected}}
}

func (c Config) Validate() error {
	if err := algorithm.ValidateStruct(Name, c); err != nil {
		return err
	}
	if c.Orientation != topology.Undirected {
		return &algorithm.ConfigError{Algorithm: Name, Field: "orientation", Message: "must be UNDIRECTED, got " + c.Orientation.String()}
	}
	return nil
}

// Result holds per-node and global counts.
type Result struct {
	// Counts is the number of triangles each node is part of, or -1 when
	// the node exceeded MaxDegree.
	Counts []int64 `json:"counts"`

	// GlobalCount is the number of distinct triangles.
	GlobalCount int64 `json:"global_count"`

	// LocalClusteringCoefficients is 2t / (d(d-1)) per node, 0 when d < 2.
	LocalClusteringCoefficients []float64 `json:"local_clustering_coefficients"`
}

func (r *Result) NodeValues() properties.Values {
	return properties.NewLongValues(r.Counts)
}

func (r *Result) Summary() map[string]any {
	var avg float64
	for _, c := range r.LocalClusteringCoefficients {
		avg += c
	}
	if n := len(r.LocalClusteringCoefficients); n > 0 {
		avg /= float64(n)
	}
	return map[string]any{
		"node_count":                     len(r.Counts),
		"global_count":                   r.GlobalCount,
		"average_clustering_coefficient": avg,
	}
}

// Input is the sorted, deduplicated undirected adjacency.
type Input struct {
	NodeCount int64
	Neighbors algorithm.NeighborFunc
	MaxDegree int64
}

// Algorithm is the storage side.
type Algorithm struct{}

func (Algorithm) Name() string { return Name }

func (Algorithm) Acquire(store graph.GraphStore, cfg Config) (graph.Graph, error) {
	return store.Graph(cfg.RelationshipTypes, topology.Undirected)
}

// Build sorts and deduplicates every list and drops self-loops, which the
// intersection in Compute depends on.
func (Algorithm) Build(ec *algorithm.ExecutionContext, g graph.Graph, cfg Config) (Input, error) {
	adj, err := algorithm.BuildAdjacency(ec, g, algorithm.AdjacencyOptions{
		SortAndDeduplicate: true,
		ExcludeSelfLoops:   true,
	})
	if err != nil {
		return Input{}, err
	}
	return Input{NodeCount: adj.NodeCount(), Neighbors: adj.NeighborFunc(), MaxDegree: cfg.MaxDegree}, nil
}

func (Algorithm) Computation(Config) algorithm.Computation[Input, *Result] {
	return algorithm.ComputationFunc[Input, *Result](compute)
}

func (Algorithm) Empty(Config) *Result {
	return &Result{Counts: []int64{}, LocalClusteringCoefficients: []float64{}}
}

// compute finds every triangle u < v < w once, from its smallest node, and
// credits all three corners. Corners are shared across partitions, so the
// per-node counters are atomic.
func compute(ec *algorithm.ExecutionContext, in Input) (*Result, error) {
	n := in.NodeCount
	counts := make([]atomic.Int64, n)
	parts := ec.Partitions(n)
	partTotals := make([]int64, len(parts))

	skip := func(node int64) bool {
		return in.MaxDegree > 0 && int64(len(in.Neighbors(node))) > in.MaxDegree
	}

	ec.Progress.SetVolume(n)
	err := ec.RunPartitions(parts, func(i int, p concurrency.Partition) error {
		if err := ec.AssertRunning(); err != nil {
			return err
		}
		var total int64
		for u := p.Start; u < p.End(); u++ {
			if skip(u) {
				continue
			}
			nu := in.Neighbors(u)
			for _, v := range nu {
				if v <= u || skip(v) {
					continue
				}
				for _, w := range intersectAbove(nu, in.Neighbors(v), v) {
					if skip(w) {
						continue
					}
					counts[u].Add(1)
					counts[v].Add(1)
					counts[w].Add(1)
					total++
				}
			}
		}
		partTotals[i] = total
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Counts:                      make([]int64, n),
		LocalClusteringCoefficients: make([]float64, n),
	}
	for _, t := range partTotals {
		res.GlobalCount += t
	}
	for node := range n {
		if skip(node) {
			res.Counts[node] = -1
			continue
		}
		t := counts[node].Load()
		res.Counts[node] = t
		if d := int64(len(in.Neighbors(node))); d >= 2 {
			res.LocalClusteringCoefficients[node] = float64(2*t) / float64(d*(d-1))
		}
	}
	return res, nil
}

// intersectAbove merges two sorted lists, yielding common elements > floor.
func intersectAbove(a, b []int64, floor int64) []int64 {
	var out []int64
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] <= floor:
			i++
		case b[j] <= floor:
			j++
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Run is algorithm.Run for triangle counting.
func Run(ec *algorithm.ExecutionContext, store graph.GraphStore, cfg Config) (*Result, error) {
	return algorithm.Run[Config, Input, *Result](ec, store, Algorithm{}, cfg)
}
