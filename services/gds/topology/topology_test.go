// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, n int64, edges [][2]int64, opts ...BuilderOption) *Topology {
	t.Helper()
	b := NewBuilder(n, opts...)
	for _, e := range edges {
		require.NoError(t, b.Add(e[0], e[1]))
	}
	topo, _ := b.Build()
	return topo
}

func neighbors(topo *Topology, node int64, o Orientation) []int64 {
	out := []int64{}
	for n := range topo.Neighbors(node, o) {
		out = append(out, n)
	}
	return out
}

func TestBuilderKeepsInsertionOrderPerSource(t *testing.T) {
	topo := build(t, 4, [][2]int64{{2, 3}, {0, 2}, {0, 1}, {2, 0}, {0, 2}})

	assert.Equal(t, int64(5), topo.RelationshipCount())
	assert.Equal(t, []int64{2, 1, 2}, topo.Outgoing().Targets(0))
	assert.Equal(t, []int64{}, topo.Outgoing().Targets(1))
	assert.Equal(t, []int64{3, 0}, topo.Outgoing().Targets(2))
	assert.Equal(t, int64(AbsentTarget), topo.Outgoing().Target(1, 0))
	assert.Equal(t, int64(1), topo.Outgoing().Target(0, 1))
}

func TestBuilderRejectsInvalidEdges(t *testing.T) {
	b := NewBuilder(3, WithPropertyKeys("weight"))

	require.ErrorIs(t, b.Add(3, 0, 1.0), ErrNodeOutOfRange)
	require.ErrorIs(t, b.Add(0, -1, 1.0), ErrNodeOutOfRange)
	require.ErrorIs(t, b.Add(0, 1), ErrPropertyArity)
	assert.Equal(t, 0, b.Len())
}

func TestBuilderPropertiesFollowRelationshipIndex(t *testing.T) {
	b := NewBuilder(3, WithPropertyKeys("weight", "cost"))
	require.NoError(t, b.Add(2, 0, 0.5, 5))
	require.NoError(t, b.Add(0, 1, 1.5, 15))
	require.NoError(t, b.Add(0, 2, 2.5, 25))

	topo, props := b.Build()
	require.Len(t, props, 2)
	assert.Equal(t, []float64{1.5, 2.5, 0.5}, props["weight"])
	assert.Equal(t, []float64{15, 25, 5}, props["cost"])

	for target, rel := range topo.Neighbors(2, Natural) {
		assert.Equal(t, int64(0), target)
		assert.Equal(t, 0.5, props["weight"][rel])
	}
}

func TestOrientations(t *testing.T) {
	edges := [][2]int64{{0, 1}, {1, 2}, {0, 2}}

	tests := []struct {
		name        string
		orientation Orientation
		node        int64
		want        []int64
	}{
		{name: "natural", orientation: Natural, node: 0, want: []int64{1, 2}},
		{name: "reverse", orientation: Reverse, node: 2, want: []int64{0, 1}},
		{name: "reverse source-only node", orientation: Reverse, node: 0, want: []int64{}},
		{name: "undirected", orientation: Undirected, node: 1, want: []int64{2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo := build(t, 3, edges)
			assert.False(t, topo.HasInverse())
			assert.Equal(t, tt.want, neighbors(topo, tt.node, tt.orientation))
			assert.Equal(t, int64(len(tt.want)), topo.Degree(tt.node, tt.orientation))
			assert.Equal(t, tt.orientation.NeedsInverse(), topo.HasInverse())
		})
	}
}

func TestUndirectedReachesBothWays(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	const n = 200
	b := NewBuilder(n)
	type edge struct{ u, v int64 }
	var edges []edge
	for range 1000 {
		e := edge{rng.Int64N(n), rng.Int64N(n)}
		edges = append(edges, e)
		require.NoError(t, b.Add(e.u, e.v))
	}
	topo, _ := b.Build()

	reach := func(a, c int64) bool {
		for x := range topo.Neighbors(a, Undirected) {
			if x == c {
				return true
			}
		}
		return false
	}
	for _, e := range edges {
		require.True(t, reach(e.u, e.v), "%d -> %d", e.u, e.v)
		require.True(t, reach(e.v, e.u), "%d -> %d", e.v, e.u)
	}
}

func TestIncomingCarriesRelationshipIndex(t *testing.T) {
	topo := build(t, 3, [][2]int64{{1, 0}, {2, 0}, {2, 1}}, WithInverseIndex())
	require.True(t, topo.HasInverse())

	var rels []int64
	for source, rel := range topo.Neighbors(0, Reverse) {
		rels = append(rels, rel)
		assert.Contains(t, []int64{1, 2}, source)
	}
	assert.Equal(t, []int64{0, 1}, rels)
}

func TestIncomingConcurrentSynthesis(t *testing.T) {
	topo := build(t, 3, [][2]int64{{0, 1}, {1, 2}})

	var wg sync.WaitGroup
	results := make([]*Adjacency, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = topo.Incoming()
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestEmptyTopology(t *testing.T) {
	topo := Empty(3)
	assert.Equal(t, int64(0), topo.RelationshipCount())
	for node := int64(0); node < 3; node++ {
		assert.Empty(t, neighbors(topo, node, Undirected))
	}
}

func TestInduce(t *testing.T) {
	topo := build(t, 5, [][2]int64{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {2, 0}})
	oldToNew := []int64{0, 1, 2, -1, -1}

	induced, kept := topo.Induce(oldToNew, 3)
	assert.Equal(t, int64(3), induced.RelationshipCount())
	assert.Equal(t, []int64{0, 1, 3}, kept)
	assert.Equal(t, []int64{1}, neighbors(induced, 0, Natural))
	assert.Equal(t, []int64{0}, neighbors(induced, 2, Natural))
	assert.False(t, induced.HasInverse())
}

func TestFromCSR(t *testing.T) {
	topo, err := FromCSR(3, []int64{0, 1, 2, 2}, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, neighbors(topo, 1, Natural))

	_, err = FromCSR(3, []int64{0, 1, 2, 2}, []int64{1, 3})
	require.ErrorIs(t, err, ErrNodeOutOfRange)

	_, err = FromCSR(3, []int64{0, 2, 1, 2}, []int64{1, 2})
	require.ErrorIs(t, err, ErrNodeOutOfRange)
}

func TestParseOrientation(t *testing.T) {
	for in, want := range map[string]Orientation{"": Natural, "natural": Natural, "Reverse": Reverse, "UNDIRECTED": Undirected} {
		got, err := ParseOrientation(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOrientation("sideways")
	require.ErrorIs(t, err, ErrInvalidOrientation)
}
