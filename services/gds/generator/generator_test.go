// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

func edges(t *testing.T, s *graph.Store) [][2]int64 {
	t.Helper()
	g, err := s.Graph(nil, topology.Natural)
	require.NoError(t, err)
	var out [][2]int64
	for node := range g.NodeCount() {
		for c := range g.StreamRelationships(node, 0) {
			out = append(out, [2]int64{c.Source, c.Target})
		}
	}
	return out
}

func TestGenerateUniform(t *testing.T) {
	s, err := Generate(context.Background(), Config{Name: "g", NodeCount: 100, AverageDegree: 3, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, "g", s.Name())
	assert.Equal(t, int64(100), s.NodeCount())
	assert.Equal(t, int64(300), s.RelationshipCount())
	assert.Equal(t, []string{DefaultRelationshipType}, s.RelationshipTypes())

	for _, e := range edges(t, s) {
		assert.NotEqual(t, e[0], e[1], "self-loop generated")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	for _, dist := range []Distribution{Uniform, Random, PowerLaw} {
		t.Run(string(dist), func(t *testing.T) {
			cfg := Config{Name: "g", NodeCount: 200, AverageDegree: 4, Distribution: dist, Seed: 42}
			a, err := Generate(context.Background(), cfg)
			require.NoError(t, err)
			b, err := Generate(context.Background(), cfg)
			require.NoError(t, err)
			assert.Equal(t, edges(t, a), edges(t, b))

			cfg.Seed = 43
			c, err := Generate(context.Background(), cfg)
			require.NoError(t, err)
			assert.NotEqual(t, edges(t, a), edges(t, c))
		})
	}
}

func TestGenerateProperty(t *testing.T) {
	s, err := Generate(context.Background(), Config{
		Name: "g", NodeCount: 50, AverageDegree: 2, Seed: 1,
		PropertyKey: "cost", PropertyMin: 2, PropertyMax: 5, InverseIndex: true,
	})
	require.NoError(t, err)

	topo, ok := s.Topology(DefaultRelationshipType)
	require.True(t, ok)
	assert.True(t, topo.HasInverse())

	values, ok := s.RelationshipProperty(DefaultRelationshipType, "cost")
	require.True(t, ok)
	for i := range values.ElementCount() {
		v, err := values.DoubleValue(i)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 2.0)
		assert.Less(t, v, 5.0)
	}
}

func TestGenerateProgress(t *testing.T) {
	root := progress.NewTask("root", progress.UnknownVolume)
	tracker := progress.NewTaskTracker(root)
	tracker.BeginSubTask()

	_, err := Generate(context.Background(), Config{Name: "g", NodeCount: 3000, AverageDegree: 1}, WithProgress(tracker))
	require.NoError(t, err)

	require.Len(t, root.Children(), 1)
	gen := root.Children()[0]
	assert.Equal(t, "Generate g", gen.Description())
	assert.Equal(t, progress.Finished, gen.Status())
	assert.Equal(t, int64(3000), gen.RawProgress())
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing name", cfg: Config{NodeCount: 1}},
		{name: "negative nodes", cfg: Config{Name: "g", NodeCount: -1}},
		{name: "bad distribution", cfg: Config{Name: "g", Distribution: "zipf"}},
		{name: "empty property range", cfg: Config{Name: "g", PropertyKey: "w", PropertyMin: 1, PropertyMax: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(context.Background(), tt.cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, Config{Name: "g", NodeCount: 10, AverageDegree: 1})
	require.ErrorIs(t, err, termination.ErrTerminated)
}

func TestDrawTarget(t *testing.T) {
	_, ok := drawTarget(nil, 0, 1, false)
	assert.False(t, ok)
}
