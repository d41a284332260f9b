// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package labelprop detects communities by label propagation.
package labelprop

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// Name is the registry name.
const Name = "labelprop"

// DefaultMaxIterations bounds propagation when the config does not.
const DefaultMaxIterations = 10

// Config configures label propagation.
type Config struct {
	algorithm.BaseConfig `mapstructure:",squash"`

	// MaxIterations bounds the number of sweeps.
	MaxIterations int `mapstructure:"max_iterations" json:"max_iterations" validate:"gte=1,lte=10000"`

	// SeedProperty names a LONG node property with initial labels. Nodes
	// without a value get a label above every seed.
	SeedProperty string `mapstructure:"seed_property" json:"seed_property,omitempty"`
}

// DefaultConfig returns an UNDIRECTED unweighted config.
func DefaultConfig() Config {
	return Config{
		BaseConfig:    algorithm.BaseConfig{Orientation: topology.Undirected, WeightFallback: 1},
		MaxIterations: DefaultMaxIterations,
	}
}

func (c Config) Validate() error { return algorithm.ValidateStruct(Name, c) }

// Result maps each node to its community label.
type Result struct {
	Communities    []int64 `json:"communities"`
	CommunityCount int64   `json:"community_count"`
	Iterations     int     `json:"iterations"`
	Converged      bool    `json:"converged"`
}

func (r *Result) NodeValues() properties.Values {
	return properties.NewLongValues(r.Communities)
}

func (r *Result) Summary() map[string]any {
	return map[string]any{
		"node_count":      len(r.Communities),
		"community_count": r.CommunityCount,
		"iterations":      r.Iterations,
		"converged":       r.Converged,
	}
}

// Input holds the adjacency and the initial labels.
type Input struct {
	NodeCount int64
	Neighbors algorithm.NeighborFunc
	Weights   algorithm.WeightFunc
	Initial   []int64
}

// Algorithm is the storage side.
type Algorithm struct{}

func (Algorithm) Name() string { return Name }

func (Algorithm) Acquire(store graph.GraphStore, cfg Config) (graph.Graph, error) {
	return cfg.Acquire(store)
}

// Build snapshots the adjacency and resolves the seed labels.
func (Algorithm) Build(ec *algorithm.ExecutionContext, g graph.Graph, cfg Config) (Input, error) {
	weighted := cfg.RelationshipWeightProperty != ""
	adj, err := algorithm.BuildAdjacency(ec, g, algorithm.AdjacencyOptions{
		ExcludeSelfLoops: true,
		Weighted:         weighted,
		Fallback:         cfg.WeightFallback,
	})
	if err != nil {
		return Input{}, err
	}
	initial, err := initialLabels(g, cfg.SeedProperty)
	if err != nil {
		return Input{}, err
	}
	in := Input{NodeCount: adj.NodeCount(), Neighbors: adj.NeighborFunc(), Initial: initial}
	if weighted {
		in.Weights = adj.WeightFunc()
	}
	return in, nil
}

// initialLabels returns the node ids, or the seeds with unseeded nodes
// labelled maxSeed+1+node.
func initialLabels(g graph.Graph, seedProperty string) ([]int64, error) {
	n := g.NodeCount()
	labels := make([]int64, n)
	if seedProperty == "" {
		for i := range labels {
			labels[i] = int64(i)
		}
		return labels, nil
	}

	seeds, ok := g.NodeProperties(seedProperty)
	if !ok {
		return nil, fmt.Errorf("%w: node property %q", graph.ErrPropertyNotFound, seedProperty)
	}
	if seeds.ValueType() != properties.Long {
		return nil, fmt.Errorf("seed property %q is %s, want %s", seedProperty, seeds.ValueType(), properties.Long)
	}
	var maxSeed int64 = -1
	for node := range n {
		if !seeds.HasValue(node) {
			continue
		}
		v, err := seeds.LongValue(node)
		if err != nil {
			return nil, err
		}
		labels[node] = v
		maxSeed = max(maxSeed, v)
	}
	for node := range n {
		if !seeds.HasValue(node) {
			labels[node] = maxSeed + 1 + node
		}
	}
	return labels, nil
}

func (Algorithm) Computation(cfg Config) algorithm.Computation[Input, *Result] {
	return &computation{maxIterations: cfg.MaxIterations}
}

func (Algorithm) Empty(Config) *Result {
	return &Result{Communities: []int64{}, Converged: true}
}

type computation struct {
	maxIterations int
}

// Compute sweeps the nodes until no label changes.
//
// Description:
//
//	Updates are applied in place, so a node sees labels already changed in
//	the same sweep. Each node adopts the label with the largest summed
//	weight among its neighbors. It keeps its own label when that label is
//	among the best; otherwise the smallest best label wins. With one worker
//	the result is deterministic; with more, the interleaving of partitions
//	may change which of several equally good labels wins.
func (c *computation) Compute(ec *algorithm.ExecutionContext, in Input) (*Result, error) {
	n := in.NodeCount
	labels := make([]atomic.Int64, n)
	for i, l := range in.Initial {
		labels[i].Store(l)
	}

	parts := ec.Partitions(n)
	changed := make([]bool, len(parts))

	var iterations int
	var converged bool
	for iter := 0; iter < c.maxIterations; iter++ {
		ec.Progress.BeginSubTaskWithDescriptionAndVolume(fmt.Sprintf("iteration %d", iter+1), n)

		err := ec.RunPartitions(parts, func(i int, p concurrency.Partition) error {
			votes := make(map[int64]float64)
			moved := false
			for node := p.Start; node < p.End(); node++ {
				clear(votes)
				var weights []float64
				if in.Weights != nil {
					weights = in.Weights(node)
				}
				for j, nb := range in.Neighbors(node) {
					w := 1.0
					if weights != nil {
						w = weights[j]
					}
					votes[labels[nb].Load()] += w
				}
				if len(votes) == 0 {
					continue
				}
				current := labels[node].Load()
				if best := pick(votes, current); best != current {
					labels[node].Store(best)
					moved = true
				}
			}
			changed[i] = moved
			ec.Progress.LogProgress(p.Length)
			return nil
		})
		if err != nil {
			ec.Progress.EndSubTaskWithFailure(err)
			return nil, err
		}
		ec.Progress.EndSubTask()

		iterations = iter + 1
		if !anyTrue(changed) {
			converged = true
			break
		}
	}

	res := &Result{Communities: make([]int64, n), Iterations: iterations, Converged: converged}
	seen := make(map[int64]struct{})
	for i := range labels {
		l := labels[i].Load()
		res.Communities[i] = l
		seen[l] = struct{}{}
	}
	res.CommunityCount = int64(len(seen))

	ec.Logger.Debug("Label propagation completed",
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
		slog.Int64("community_count", res.CommunityCount),
	)
	return res, nil
}

// pick returns the label with the largest vote, preferring current, then
// the smallest label.
func pick(votes map[int64]float64, current int64) int64 {
	best, bestVote := current, -1.0
	for label, vote := range votes {
		switch {
		case vote > bestVote:
			best, bestVote = label, vote
		case vote == bestVote && best != current && (label == current || label < best):
			best = label
		}
	}
	return best
}

func anyTrue(xs []bool) bool {
	for _, x := range xs {
		if x {
			return true
		}
	}
	return false
}

// Run is algorithm.Run for label propagation.
func Run(ec *algorithm.ExecutionContext, store graph.GraphStore, cfg Config) (*Result, error) {
	return algorithm.Run[Config, Input, *Result](ec, store, Algorithm{}, cfg)
}
