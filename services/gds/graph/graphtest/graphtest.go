// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphtest builds small stores for tests.
package graphtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/idmap"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// Edge is a relationship with an optional weight.
type Edge struct {
	Source, Target int64
	Weight         float64
}

// Store returns a store over nodes 0..n-1 with one relationship type "REL".
func Store(t testing.TB, n int64, edges [][2]int64) *graph.Store {
	t.Helper()
	weighted := make([]Edge, len(edges))
	for i, e := range edges {
		weighted[i] = Edge{Source: e[0], Target: e[1], Weight: 1}
	}
	return WeightedStore(t, n, weighted)
}

// WeightedStore is Store with a "weight" relationship property.
func WeightedStore(t testing.TB, n int64, edges []Edge) *graph.Store {
	t.Helper()
	s := graph.NewStore("test", idmap.Identity(n))
	b := topology.NewBuilder(n, topology.WithPropertyKeys("weight"), topology.WithExpectedRelationships(len(edges)))
	for _, e := range edges {
		require.NoError(t, b.Add(e.Source, e.Target, e.Weight))
	}
	topo, props := b.Build()
	require.NoError(t, s.AddRelationshipType("REL", topo, map[string]properties.Values{
		"weight": properties.NewDoubleValues(props["weight"]),
	}))
	return s
}

// Path returns the directed path 0 -> 1 -> ... -> n-1.
func Path(t testing.TB, n int64) *graph.Store {
	t.Helper()
	edges := make([][2]int64, 0, max(n-1, 0))
	for i := int64(0); i+1 < n; i++ {
		edges = append(edges, [2]int64{i, i + 1})
	}
	return Store(t, n, edges)
}
