// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithm

import (
	"cmp"
	"slices"

	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
)

// NeighborFunc returns the neighbors of a node. Computations receive it in
// place of a graph.
type NeighborFunc func(node int64) []int64

// WeightFunc returns the weights parallel to NeighborFunc's result.
type WeightFunc func(node int64) []float64

// AdjacencyOptions controls BuildAdjacency.
type AdjacencyOptions struct {
	// SortAndDeduplicate sorts each list and drops parallel relationships.
	// Weights of dropped duplicates are discarded; the first wins.
	SortAndDeduplicate bool

	// ExcludeSelfLoops drops relationships from a node to itself.
	ExcludeSelfLoops bool

	// Weighted records relationship weights.
	Weighted bool

	// Fallback is the weight of relationships without a value.
	Fallback float64
}

// Adjacency is a per-node neighbor snapshot owned by one invocation.
type Adjacency struct {
	lists   [][]int64
	weights [][]float64
	count   int64
}

// NodeCount returns the number of nodes.
func (a *Adjacency) NodeCount() int64 { return int64(len(a.lists)) }

// RelationshipCount returns the number of stored entries.
func (a *Adjacency) RelationshipCount() int64 { return a.count }

// Neighbors returns the list of node. Callers must not modify it.
func (a *Adjacency) Neighbors(node int64) []int64 { return a.lists[node] }

// Weights returns the weights of node, or nil when unweighted.
func (a *Adjacency) Weights(node int64) []float64 {
	if a.weights == nil {
		return nil
	}
	return a.weights[node]
}

// Degree returns the list length of node.
func (a *Adjacency) Degree(node int64) int { return len(a.lists[node]) }

// NeighborFunc returns a closure over the lists.
func (a *Adjacency) NeighborFunc() NeighborFunc { return a.Neighbors }

// WeightFunc returns a closure over the weights.
func (a *Adjacency) WeightFunc() WeightFunc { return a.Weights }

// BuildAdjacency snapshots every node's relationships from g.
//
// Description:
//
//	Nodes are processed in degree-balanced partitions on the executor. The
//	termination flag is checked once per node, and each partition logs its
//	node count as progress when it completes.
//
// Outputs:
//
//	*Adjacency - The snapshot.
//	error - A termination error when the run was stopped.
func BuildAdjacency(ec *ExecutionContext, g graph.Graph, opts AdjacencyOptions) (*Adjacency, error) {
	n := g.NodeCount()
	adj := &Adjacency{lists: make([][]int64, n)}
	if opts.Weighted {
		adj.weights = make([][]float64, n)
	}
	parts := concurrency.DegreePartitions(n, g.Degree, ec.Concurrency())
	counts := make([]int64, len(parts))

	err := ec.RunPartitions(parts, func(i int, p concurrency.Partition) error {
		var local int64
		for node := p.Start; node < p.End(); node++ {
			if err := ec.AssertRunning(); err != nil {
				return err
			}
			targets, weights := snapshot(g, node, opts)
			adj.lists[node] = targets
			if opts.Weighted {
				adj.weights[node] = weights
			}
			local += int64(len(targets))
		}
		counts[i] = local
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		adj.count += c
	}
	return adj, nil
}

type entry struct {
	target int64
	weight float64
}

func snapshot(g graph.Graph, node int64, opts AdjacencyOptions) ([]int64, []float64) {
	entries := make([]entry, 0, g.Degree(node))
	for c := range g.StreamRelationshipsWeighted(node, opts.Fallback) {
		if opts.ExcludeSelfLoops && c.Target == node {
			continue
		}
		entries = append(entries, entry{target: c.Target, weight: c.Weight})
	}
	if opts.SortAndDeduplicate {
		slices.SortStableFunc(entries, func(a, b entry) int { return cmp.Compare(a.target, b.target) })
		entries = slices.CompactFunc(entries, func(a, b entry) bool { return a.target == b.target })
	}

	targets := make([]int64, len(entries))
	var weights []float64
	if opts.Weighted {
		weights = make([]float64, len(entries))
	}
	for i, e := range entries {
		targets[i] = e.target
		if weights != nil {
			weights[i] = e.weight
		}
	}
	return targets, weights
}
