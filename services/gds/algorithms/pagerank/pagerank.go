// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pagerank computes PageRank by power iteration.
package pagerank

import (
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
)

// Name is the registry name.
const Name = "pagerank"

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following a link (vs random jump).
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations is the maximum iterations before stopping.
	DefaultMaxIterations = 20

	// DefaultTolerance is the threshold for convergence detection.
	// Power iteration stops when max score change < this value.
	DefaultTolerance = 1e-7
)

// Config configures PageRank.
type Config struct {
	algorithm.BaseConfig `mapstructure:",squash"`

	// DampingFactor is the probability of following a link. Must be in [0, 1).
	DampingFactor float64 `mapstructure:"damping_factor" json:"damping_factor" validate:"gte=0,lt=1"`

	// MaxIterations bounds the power iteration.
	MaxIterations int `mapstructure:"max_iterations" json:"max_iterations" validate:"gte=1,lte=10000"`

	// Tolerance stops iterating once the largest score change is below it.
	Tolerance float64 `mapstructure:"tolerance" json:"tolerance" validate:"gt=0"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseConfig:    algorithm.BaseConfig{WeightFallback: 1},
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Tolerance:     DefaultTolerance,
	}
}

func (c Config) Validate() error { return algorithm.ValidateStruct(Name, c) }

// Result contains the output of PageRank computation.
type Result struct {
	// Scores holds one score per node. Scores sum to approximately 1.0.
	Scores []float64 `json:"scores"`

	// Iterations is the actual number of iterations performed.
	Iterations int `json:"iterations"`

	// Converged indicates whether the algorithm converged before MaxIterations.
	Converged bool `json:"converged"`

	// MaxDiff is the final maximum score difference.
	MaxDiff float64 `json:"max_diff"`
}

func (r *Result) NodeValues() properties.Values {
	return properties.NewDoubleValues(r.Scores)
}

func (r *Result) Summary() map[string]any {
	summary := map[string]any{
		"node_count": len(r.Scores),
		"iterations": r.Iterations,
		"converged":  r.Converged,
		"max_diff":   r.MaxDiff,
	}
	if len(r.Scores) > 0 {
		summary["max_score"] = slices.Max(r.Scores)
	}
	return summary
}

// Input is the pull form of the graph: for each node, the nodes linking to
// it and the share of their rank each one passes on.
type Input struct {
	NodeCount int64

	// Incoming returns the sources of relationships into a node.
	Incoming algorithm.NeighborFunc

	// Shares returns w(u,v) / outWeight(u), parallel to Incoming.
	Shares algorithm.WeightFunc

	// Sinks are the nodes without outgoing weight.
	Sinks []int64
}

// Algorithm is the storage side.
type Algorithm struct{}

func (Algorithm) Name() string { return Name }

func (Algorithm) Acquire(store graph.GraphStore, cfg Config) (graph.Graph, error) {
	return cfg.Acquire(store)
}

// Build snapshots outgoing adjacency and transposes it into the pull form.
func (Algorithm) Build(ec *algorithm.ExecutionContext, g graph.Graph, cfg Config) (Input, error) {
	weighted := cfg.RelationshipWeightProperty != ""
	adj, err := algorithm.BuildAdjacency(ec, g, algorithm.AdjacencyOptions{
		Weighted: weighted,
		Fallback: cfg.WeightFallback,
	})
	if err != nil {
		return Input{}, err
	}
	n := adj.NodeCount()

	outWeight := make([]float64, n)
	inDegree := make([]int64, n+1)
	var sinks []int64
	for u := range n {
		targets := adj.Neighbors(u)
		if weighted {
			for i, w := range adj.Weights(u) {
				if w > 0 {
					outWeight[u] += w
					inDegree[targets[i]+1]++
				}
			}
		} else {
			outWeight[u] = float64(len(targets))
			for _, v := range targets {
				inDegree[v+1]++
			}
		}
		if outWeight[u] == 0 {
			sinks = append(sinks, u)
		}
	}
	if err := ec.AssertRunning(); err != nil {
		return Input{}, err
	}

	offsets := inDegree
	for i := int64(1); i <= n; i++ {
		offsets[i] += offsets[i-1]
	}
	sources := make([]int64, offsets[n])
	shares := make([]float64, offsets[n])
	cursor := slices.Clone(offsets[:n])
	for u := range n {
		weights := adj.Weights(u)
		for i, v := range adj.Neighbors(u) {
			w := 1.0
			if weighted {
				w = weights[i]
				if w <= 0 {
					continue
				}
			}
			sources[cursor[v]] = u
			shares[cursor[v]] = w / outWeight[u]
			cursor[v]++
		}
	}

	return Input{
		NodeCount: n,
		Incoming:  func(v int64) []int64 { return sources[offsets[v]:offsets[v+1]] },
		Shares:    func(v int64) []float64 { return shares[offsets[v]:offsets[v+1]] },
		Sinks:     sinks,
	}, nil
}

func (Algorithm) Computation(cfg Config) algorithm.Computation[Input, *Result] {
	return &computation{damping: cfg.DampingFactor, maxIterations: cfg.MaxIterations, tolerance: cfg.Tolerance}
}

func (Algorithm) Empty(Config) *Result {
	return &Result{Scores: []float64{}, Converged: true}
}

// computation holds the power iteration state.
type computation struct {
	damping       float64
	maxIterations int
	tolerance     float64
}

// Compute runs the power iteration.
//
// Description:
//
//	Each iteration is one parallel superstep over disjoint node partitions
//	reading the previous scores, followed by a sequential convergence check
//	over the per-partition maxima. Sink nodes redistribute their rank
//	evenly across all nodes.
//
// Complexity: O(k × E) where k = iterations to converge.
func (c *computation) Compute(ec *algorithm.ExecutionContext, in Input) (*Result, error) {
	n := in.NodeCount
	N := float64(n)
	d := c.damping

	scores := make([]float64, n)
	next := make([]float64, n)
	initial := 1.0 / N
	for i := range scores {
		scores[i] = initial
	}

	parts := ec.Partitions(n)
	partMax := make([]float64, len(parts))

	var iterations int
	var converged bool
	var maxDiff float64

	for iter := 0; iter < c.maxIterations; iter++ {
		ec.Progress.BeginSubTaskWithDescriptionAndVolume(fmt.Sprintf("iteration %d", iter+1), n)

		sinkContribution := 0.0
		for _, s := range in.Sinks {
			sinkContribution += scores[s]
		}
		base := (1-d)/N + d*sinkContribution/N

		err := ec.RunPartitions(parts, func(i int, p concurrency.Partition) error {
			local := 0.0
			for v := p.Start; v < p.End(); v++ {
				sum := 0.0
				shares := in.Shares(v)
				for j, u := range in.Incoming(v) {
					sum += scores[u] * shares[j]
				}
				score := base + d*sum
				next[v] = score
				local = math.Max(local, math.Abs(score-scores[v]))
			}
			partMax[i] = local
			ec.Progress.LogProgress(p.Length)
			return nil
		})
		if err != nil {
			ec.Progress.EndSubTaskWithFailure(err)
			return nil, err
		}
		ec.Progress.EndSubTask()

		scores, next = next, scores
		iterations = iter + 1
		maxDiff = slices.Max(partMax)
		if math.IsNaN(maxDiff) || math.IsInf(maxDiff, 0) {
			return nil, &algorithm.ComputationError{
				Code:    "NON_FINITE",
				Message: fmt.Sprintf("score delta is %v after iteration %d", maxDiff, iterations),
			}
		}
		if maxDiff < c.tolerance {
			converged = true
			break
		}
	}

	ec.Logger.Debug("PageRank completed",
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
		slog.Float64("max_diff", maxDiff),
		slog.Int64("node_count", n),
	)

	return &Result{
		Scores:     scores,
		Iterations: iterations,
		Converged:  converged,
		MaxDiff:    maxDiff,
	}, nil
}

// Run is algorithm.Run for PageRank.
func Run(ec *algorithm.ExecutionContext, store graph.GraphStore, cfg Config) (*Result, error) {
	return algorithm.Run[Config, Input, *Result](ec, store, Algorithm{}, cfg)
}
