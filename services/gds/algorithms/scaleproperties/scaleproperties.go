// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scaleproperties min-max scales node properties into one feature
// vector per node.
package scaleproperties

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
)

// Name is the registry name.
const Name = "scaleproperties"

// Config configures scaling.
type Config struct {
	algorithm.BaseConfig `mapstructure:",squash"`

	// NodeProperties are concatenated in order. Array properties contribute
	// one feature per element.
	NodeProperties []string `mapstructure:"node_properties" json:"node_properties" validate:"min=1,dive,required"`
}

func DefaultConfig() Config { return Config{} }

func (c Config) Validate() error { return algorithm.ValidateStruct(Name, c) }

// Result holds the scaled vectors and the per-feature bounds used.
type Result struct {
	Scaled [][]float64 `json:"scaled"`
	Min    []float64   `json:"min"`
	Max    []float64   `json:"max"`
}

func (r *Result) NodeValues() properties.Values {
	return properties.NewDoubleArrayValues(r.Scaled)
}

func (r *Result) Summary() map[string]any {
	return map[string]any{
		"node_count": len(r.Scaled),
		"width":      len(r.Min),
		"min":        r.Min,
		"max":        r.Max,
	}
}

// Input is the dense feature matrix, one row per node.
type Input struct {
	Features [][]float64
	Width    int
}

// Algorithm is the storage side.
type Algorithm struct{}

func (Algorithm) Name() string { return Name }

func (Algorithm) BuildDescription() string { return "Extract features" }

func (Algorithm) Acquire(store graph.GraphStore, cfg Config) (graph.Graph, error) {
	return cfg.Acquire(store)
}

// Build extracts the feature rows. Missing or NaN values violate the
// extractor's strictness and fail the build.
func (Algorithm) Build(ec *algorithm.ExecutionContext, g graph.Graph, cfg Config) (Input, error) {
	columns := make([]properties.Values, len(cfg.NodeProperties))
	for i, key := range cfg.NodeProperties {
		col, ok := g.NodeProperties(key)
		if !ok {
			return Input{}, fmt.Errorf("%w: node property %q", graph.ErrPropertyNotFound, key)
		}
		columns[i] = col
	}
	fe, err := properties.NewFeatureExtractor(cfg.NodeProperties, columns)
	if err != nil {
		return Input{}, err
	}

	n := g.NodeCount()
	rows := make([][]float64, n)
	err = ec.RunPartitions(ec.Partitions(n), func(_ int, p concurrency.Partition) error {
		if err := ec.AssertRunning(); err != nil {
			return err
		}
		for node := p.Start; node < p.End(); node++ {
			rows[node] = fe.Extract(node, nil)
		}
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return Input{}, err
	}
	return Input{Features: rows, Width: fe.Width()}, nil
}

func (Algorithm) Computation(Config) algorithm.Computation[Input, *Result] {
	return algorithm.ComputationFunc[Input, *Result](compute)
}

func (Algorithm) Empty(Config) *Result {
	return &Result{Scaled: [][]float64{}, Min: []float64{}, Max: []float64{}}
}

// compute finds per-partition bounds in parallel, merges them, then scales
// rows in place. Constant features scale to 0.
func compute(ec *algorithm.ExecutionContext, in Input) (*Result, error) {
	n := int64(len(in.Features))
	parts := ec.Partitions(n)
	partMin := make([][]float64, len(parts))
	partMax := make([][]float64, len(parts))

	ec.Progress.SetVolume(2 * n)
	err := ec.RunPartitions(parts, func(i int, p concurrency.Partition) error {
		lo, hi := bounds(in.Width)
		for node := p.Start; node < p.End(); node++ {
			for j, x := range in.Features[node] {
				lo[j] = math.Min(lo[j], x)
				hi[j] = math.Max(hi[j], x)
			}
		}
		partMin[i], partMax[i] = lo, hi
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return nil, err
	}

	lo, hi := bounds(in.Width)
	for i := range parts {
		for j := range in.Width {
			lo[j] = math.Min(lo[j], partMin[i][j])
			hi[j] = math.Max(hi[j], partMax[i][j])
		}
	}

	err = ec.RunPartitions(parts, func(_ int, p concurrency.Partition) error {
		if err := ec.AssertRunning(); err != nil {
			return err
		}
		for node := p.Start; node < p.End(); node++ {
			row := in.Features[node]
			for j, x := range row {
				if span := hi[j] - lo[j]; span > 0 {
					row[j] = (x - lo[j]) / span
				} else {
					row[j] = 0
				}
			}
		}
		ec.Progress.LogProgress(p.Length)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Scaled: in.Features, Min: lo, Max: hi}, nil
}

func bounds(width int) (lo, hi []float64) {
	lo, hi = make([]float64, width), make([]float64, width)
	for j := range width {
		lo[j], hi[j] = math.Inf(1), math.Inf(-1)
	}
	return lo, hi
}

// Run is algorithm.Run for property scaling.
func Run(ec *algorithm.ExecutionContext, store graph.GraphStore, cfg Config) (*Result, error) {
	return algorithm.Run[Config, Input, *Result](ec, store, Algorithm{}, cfg)
}
