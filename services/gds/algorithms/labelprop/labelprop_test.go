// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package labelprop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph/graphtest"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

var bridgedTriangles = [][2]int64{{0, 1}, {1, 2}, {2, 0}, {3, 4}, {4, 5}, {5, 3}, {2, 3}}

func newEC() *algorithm.ExecutionContext {
	return algorithm.NewExecutionContext(context.Background(), concurrency.NewExecutor(1, nil), nil, nil, nil)
}

func TestLabelPropagationDisconnected(t *testing.T) {
	store := graphtest.Store(t, 6, [][2]int64{{0, 1}, {1, 2}, {2, 0}, {3, 4}, {4, 5}, {5, 3}})

	res, err := Run(newEC(), store, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, int64(2), res.CommunityCount)
	assert.Equal(t, []int64{1, 1, 1, 4, 4, 4}, res.Communities)
}

func TestLabelPropagationSeeded(t *testing.T) {
	store := graphtest.Store(t, 6, bridgedTriangles)
	require.NoError(t, store.AddNodeProperty(nil, "seed", properties.NewLongValues([]int64{0, 0, 0, 1, 1, 1})))

	cfg := DefaultConfig()
	cfg.SeedProperty = "seed"
	res, err := Run(newEC(), store, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0, 1, 1, 1}, res.Communities)
	assert.Equal(t, 1, res.Iterations)
	assert.True(t, res.Converged)
}

func TestLabelPropagationWeighted(t *testing.T) {
	// Node 0 is pulled towards node 1 only when weights count.
	store := graphtest.WeightedStore(t, 4, []graphtest.Edge{
		{Source: 0, Target: 1, Weight: 5},
		{Source: 0, Target: 2, Weight: 1},
		{Source: 0, Target: 3, Weight: 1},
	})
	require.NoError(t, store.AddNodeProperty(nil, "seed", properties.NewLongValues([]int64{0, 10, 20, 20})))

	cfg := DefaultConfig()
	cfg.SeedProperty = "seed"
	unweighted, err := Run(newEC(), store, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 20, 20, 20}, unweighted.Communities)

	cfg.RelationshipWeightProperty = "weight"
	weighted, err := Run(newEC(), store, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 10, 10, 10}, weighted.Communities)
}

func TestInitialLabelsPartialSeed(t *testing.T) {
	store := graphtest.Store(t, 4, nil)
	present := []bool{true, false, false, false}
	require.NoError(t, store.AddNodeProperty(nil, "seed", properties.NewLongValues([]int64{7, 0, 0, 0}, properties.WithPresence[int64](present))))

	g, err := store.Graph(nil, topology.Natural)
	require.NoError(t, err)
	labels, err := initialLabels(g, "seed")
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 9, 10, 11}, labels)
}

func TestLabelPropagationSeedErrors(t *testing.T) {
	store := graphtest.Store(t, 2, [][2]int64{{0, 1}})
	require.NoError(t, store.AddNodeProperty(nil, "score", properties.NewDoubleValues([]float64{1, 2})))

	cfg := DefaultConfig()
	cfg.SeedProperty = "missing"
	_, err := Run(newEC(), store, cfg)
	require.ErrorIs(t, err, graph.ErrPropertyNotFound)
	assert.Equal(t, algorithm.KindGraph, algorithm.KindOf(err))

	cfg.SeedProperty = "score"
	_, err = Run(newEC(), store, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want LONG")
}

func TestPick(t *testing.T) {
	tests := []struct {
		name    string
		votes   map[int64]float64
		current int64
		want    int64
	}{
		{name: "clear winner", votes: map[int64]float64{3: 2, 1: 1}, current: 9, want: 3},
		{name: "tie keeps current", votes: map[int64]float64{3: 1, 5: 1}, current: 5, want: 5},
		{name: "tie picks smallest", votes: map[int64]float64{3: 1, 5: 1, 2: 1}, current: 9, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pick(tt.votes, tt.current))
		})
	}
}
