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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/idmap"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

type testConfig struct {
	BaseConfig `mapstructure:",squash"`
	Scale      float64 `mapstructure:"scale" validate:"gt=0"`
}

func (c testConfig) Validate() error { return ValidateStruct("degree-sum", c) }

// degreeSum sums scaled degrees; it records which phases ran.
type degreeSum struct {
	acquired, built, computed bool
}

func (d *degreeSum) Name() string { return "degree-sum" }

func (d *degreeSum) Acquire(store graph.GraphStore, cfg testConfig) (graph.Graph, error) {
	d.acquired = true
	return cfg.Acquire(store)
}

func (d *degreeSum) Build(ec *ExecutionContext, g graph.Graph, _ testConfig) (*Adjacency, error) {
	d.built = true
	return BuildAdjacency(ec, g, AdjacencyOptions{})
}

func (d *degreeSum) Computation(cfg testConfig) Computation[*Adjacency, float64] {
	return ComputationFunc[*Adjacency, float64](func(_ *ExecutionContext, adj *Adjacency) (float64, error) {
		d.computed = true
		if cfg.Scale > 100 {
			return 0, &ComputationError{Code: "OVERFLOW", Message: "scale too large"}
		}
		return float64(adj.RelationshipCount()) * cfg.Scale, nil
	})
}

func (d *degreeSum) Empty(testConfig) float64 { return -1 }

func pathStore(t *testing.T, n int64) *graph.Store {
	t.Helper()
	s := graph.NewStore("path", idmap.Identity(n))
	b := topology.NewBuilder(n)
	for i := int64(0); i+1 < n; i++ {
		require.NoError(t, b.Add(i, i+1))
	}
	topo, _ := b.Build()
	require.NoError(t, s.AddRelationshipType("REL", topo, nil))
	return s
}

func runDegreeSum(ec *ExecutionContext, store graph.GraphStore, alg *degreeSum, cfg testConfig) (float64, error) {
	return Run[testConfig, *Adjacency, float64](ec, store, alg, cfg)
}

func recordTransitions(ec *ExecutionContext) *[]State {
	var states []State
	ec.OnTransition = func(_, to State) { states = append(states, to) }
	return &states
}

func TestRunCompletes(t *testing.T) {
	root := progress.Leaf("degree-sum", progress.UnknownVolume)
	ec := NewExecutionContext(context.Background(), nil, nil, progress.NewTaskTracker(root), nil)
	states := recordTransitions(ec)
	alg := &degreeSum{}

	cfg := testConfig{BaseConfig: BaseConfig{Orientation: topology.Undirected}, Scale: 0.5}
	got, err := runDegreeSum(ec, pathStore(t, 5), alg, cfg)
	require.NoError(t, err)

	assert.Equal(t, 4.0, got)
	assert.Equal(t, []State{StateViewAcquired, StateAdjacencyBuilt, StateComputing, StateCompleted}, *states)
	assert.Equal(t, progress.Finished, root.Status())

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "Build adjacency", children[0].Description())
	assert.Equal(t, int64(5), children[0].RawProgress())
	assert.Equal(t, "Compute", children[1].Description())
	assert.Equal(t, progress.Finished, children[1].Status())
}

func TestRunEmptyGraphSkipsComputation(t *testing.T) {
	ec := NewExecutionContext(context.Background(), nil, nil, nil, nil)
	states := recordTransitions(ec)
	alg := &degreeSum{}

	empty := graph.NewStore("empty", idmap.Identity(0))
	got, err := runDegreeSum(ec, empty, alg, testConfig{Scale: 1})
	require.NoError(t, err)

	assert.Equal(t, -1.0, got)
	assert.True(t, alg.acquired)
	assert.False(t, alg.built)
	assert.False(t, alg.computed)
	assert.Equal(t, []State{StateViewAcquired, StateCompleted}, *states)
}

func TestRunRejectsConfigBeforeGraphAccess(t *testing.T) {
	ec := NewExecutionContext(context.Background(), nil, nil, nil, nil)
	states := recordTransitions(ec)
	alg := &degreeSum{}

	_, err := runDegreeSum(ec, pathStore(t, 3), alg, testConfig{Scale: 0})
	require.ErrorIs(t, err, ErrInvalidConfig)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "scale", ce.Field)
	assert.Equal(t, "failed gt=0", ce.Message)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.False(t, alg.acquired)
	assert.Equal(t, []State{StateFailed}, *states)
}

func TestRunGraphError(t *testing.T) {
	ec := NewExecutionContext(context.Background(), nil, nil, nil, nil)
	cfg := testConfig{BaseConfig: BaseConfig{RelationshipTypes: []string{"MISSING"}}, Scale: 1}

	_, err := runDegreeSum(ec, pathStore(t, 3), &degreeSum{}, cfg)
	require.ErrorIs(t, err, ErrGraph)
	require.ErrorIs(t, err, graph.ErrRelationshipTypeNotFound)

	var ae *AlgorithmError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "acquire view", ae.Phase)
	assert.Equal(t, KindGraph, ae.Kind)
}

func TestRunComputationError(t *testing.T) {
	root := progress.Leaf("degree-sum", progress.UnknownVolume)
	ec := NewExecutionContext(context.Background(), nil, nil, progress.NewTaskTracker(root), nil)

	_, err := runDegreeSum(ec, pathStore(t, 3), &degreeSum{}, testConfig{Scale: 1000})
	require.ErrorIs(t, err, ErrComputation)

	var ce *ComputationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "OVERFLOW", ce.Code)
	assert.Equal(t, "degree-sum: compute: OVERFLOW: scale too large", err.Error())
	assert.Equal(t, progress.Failed, root.Status())
	assert.Equal(t, progress.Failed, root.Children()[1].Status())
}

func TestRunTerminated(t *testing.T) {
	flag := termination.NewStopFlag()
	flag.Stop(termination.ReasonUser, "stopped by test")

	ec := NewExecutionContext(context.Background(), nil, flag, nil, nil)
	states := recordTransitions(ec)
	alg := &degreeSum{}

	_, err := runDegreeSum(ec, pathStore(t, 3), alg, testConfig{Scale: 1})
	require.Error(t, err)
	assert.True(t, termination.IsTerminated(err))
	assert.Equal(t, KindTerminated, KindOf(err))
	assert.False(t, errors.Is(err, ErrComputation))
	assert.False(t, alg.acquired)
	assert.Equal(t, []State{StateTerminated}, *states)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ec := NewExecutionContext(ctx, nil, nil, nil, nil)

	_, err := runDegreeSum(ec, pathStore(t, 3), &degreeSum{}, testConfig{Scale: 1})
	assert.True(t, termination.IsTerminated(err))
}

func TestDecode(t *testing.T) {
	var cfg testConfig
	err := Decode("degree-sum", map[string]any{
		"relationship_types": []string{"REL"},
		"orientation":        "UNDIRECTED",
		"concurrency":        "4",
		"scale":              2.5,
	}, &cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"REL"}, cfg.RelationshipTypes)
	assert.Equal(t, topology.Undirected, cfg.Orientation)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 2.5, cfg.Scale)

	err = Decode("degree-sum", map[string]any{"dampening": 0.85}, &cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	err = Decode("degree-sum", map[string]any{"orientation": "SIDEWAYS"}, &cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBuildAdjacency(t *testing.T) {
	s := graph.NewStore("multi", idmap.Identity(3))
	b := topology.NewBuilder(3, topology.WithPropertyKeys("w"))
	for _, e := range []struct {
		src, tgt int64
		w        float64
	}{{0, 2, 1}, {0, 1, 2}, {0, 2, 3}, {0, 0, 4}, {1, 2, 5}} {
		require.NoError(t, b.Add(e.src, e.tgt, e.w))
	}
	topo, props := b.Build()
	require.NoError(t, s.AddRelationshipType("R", topo, map[string]properties.Values{
		"w": properties.NewDoubleValues(props["w"]),
	}))

	g, err := s.Graph(nil, topology.Natural, graph.WithRelationshipProperty("w"))
	require.NoError(t, err)

	root := progress.Leaf("build", 3)
	tracker := progress.NewTaskTracker(root)
	tracker.BeginSubTask()
	ec := NewExecutionContext(context.Background(), nil, nil, tracker, nil)

	raw, err := BuildAdjacency(ec, g, AdjacencyOptions{Weighted: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 2, 0}, raw.Neighbors(0))
	assert.Equal(t, []float64{1, 2, 3, 4}, raw.Weights(0))
	assert.Equal(t, int64(5), raw.RelationshipCount())
	assert.Equal(t, int64(3), root.RawProgress())

	clean, err := BuildAdjacency(ec, g, AdjacencyOptions{SortAndDeduplicate: true, ExcludeSelfLoops: true, Weighted: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, clean.Neighbors(0))
	assert.Equal(t, []float64{2, 1}, clean.Weights(0))
	assert.Equal(t, 0, clean.Degree(2))
	assert.Equal(t, int64(3), clean.RelationshipCount())
	assert.Nil(t, (&Adjacency{lists: [][]int64{{}}}).Weights(0))
}
