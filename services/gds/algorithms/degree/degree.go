// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package degree computes degree centrality.
package degree

import (
	"slices"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
)

// Name is the registry name.
const Name = "degree"

// Config configures degree centrality. Orientation picks out-degree
// (NATURAL), in-degree (REVERSE) or both (UNDIRECTED).
type Config struct {
	algorithm.BaseConfig `mapstructure:",squash"`
}

// DefaultConfig returns a NATURAL unweighted config with a weight fallback
// of 1.
func DefaultConfig() Config {
	return Config{BaseConfig: algorithm.BaseConfig{WeightFallback: 1}}
}

func (c Config) Validate() error { return algorithm.ValidateStruct(Name, c) }

// Result holds one score per node.
type Result struct {
	Scores []float64 `json:"scores"`
}

func (r *Result) NodeValues() properties.Values {
	return properties.NewDoubleValues(r.Scores)
}

func (r *Result) Summary() map[string]any {
	if len(r.Scores) == 0 {
		return map[string]any{"node_count": 0}
	}
	var sum float64
	for _, s := range r.Scores {
		sum += s
	}
	return map[string]any{
		"node_count": len(r.Scores),
		"min":        slices.Min(r.Scores),
		"max":        slices.Max(r.Scores),
		"mean":       sum / float64(len(r.Scores)),
	}
}

// Input is the computation input.
type Input struct {
	NodeCount int64
	Neighbors algorithm.NeighborFunc
	Weights   algorithm.WeightFunc
}

// Algorithm is the storage side.
type Algorithm struct{}

func (Algorithm) Name() string { return Name }

func (Algorithm) Acquire(store graph.GraphStore, cfg Config) (graph.Graph, error) {
	return cfg.Acquire(store)
}

func (Algorithm) Build(ec *algorithm.ExecutionContext, g graph.Graph, cfg Config) (Input, error) {
	weighted := cfg.RelationshipWeightProperty != ""
	adj, err := algorithm.BuildAdjacency(ec, g, algorithm.AdjacencyOptions{
		Weighted: weighted,
		Fallback: cfg.WeightFallback,
	})
	if err != nil {
		return Input{}, err
	}
	in := Input{NodeCount: adj.NodeCount(), Neighbors: adj.NeighborFunc()}
	if weighted {
		in.Weights = adj.WeightFunc()
	}
	return in, nil
}

func (Algorithm) Computation(Config) algorithm.Computation[Input, *Result] {
	return algorithm.ComputationFunc[Input, *Result](compute)
}

func (Algorithm) Empty(Config) *Result {
	return &Result{Scores: []float64{}}
}

// compute writes disjoint partitions of the score array.
func compute(ec *algorithm.ExecutionContext, in Input) (*Result, error) {
	scores := make([]float64, in.NodeCount)
	ec.Progress.SetVolume(in.NodeCount)
	err := ec.RunPartitions(ec.Partitions(in.NodeCount), func(_ int, p concurrency.Partition) error {
		if err := ec.AssertRunning(); err != nil {
			return err
		}
		for node := p.Start; node < p.End(); node++ {
			if in.Weights == nil {
				scores[node] = float64(len(in.Neighbors(node)))
				continue
			}
			var sum float64
			for _, w := range in.Weights(node) {
				sum += w
			}
			scores[node] = sum
		}
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Scores: scores}, nil
}

// Run is algorithm.Run for degree centrality.
func Run(ec *algorithm.ExecutionContext, store graph.GraphStore, cfg Config) (*Result, error) {
	return algorithm.Run[Config, Input, *Result](ec, store, Algorithm{}, cfg)
}
