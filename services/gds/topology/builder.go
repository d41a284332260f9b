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
	"fmt"
)

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithInverseIndex builds the incoming adjacency eagerly in Build instead
// of on the first Reverse or Undirected traversal.
func WithInverseIndex() BuilderOption {
	return func(b *Builder) {
		b.inverse = true
	}
}

// WithPropertyKeys declares the relationship properties every Add call
// carries, in order.
func WithPropertyKeys(keys ...string) BuilderOption {
	return func(b *Builder) {
		b.keys = append([]string(nil), keys...)
	}
}

// WithExpectedRelationships pre-sizes the edge buffers.
func WithExpectedRelationships(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.sources = make([]int64, 0, n)
			b.targets = make([]int64, 0, n)
		}
	}
}

// Builder accumulates an edge list for one relationship type.
//
// Description:
//
//	Edges may be added in any order. Build groups them by source with a
//	stable counting sort, so each source's neighbors keep insertion order.
//	Parallel edges and self-loops are kept.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Builder struct {
	nodeCount int64
	inverse   bool
	keys      []string

	sources []int64
	targets []int64
	values  [][]float64
}

// NewBuilder creates a builder over the id space [0, nodeCount).
func NewBuilder(nodeCount int64, opts ...BuilderOption) *Builder {
	b := &Builder{nodeCount: nodeCount}
	for _, opt := range opts {
		opt(b)
	}
	b.values = make([][]float64, len(b.keys))
	return b
}

// Add appends one relationship.
//
// Inputs:
//
//	source, target - Internal node ids in [0, nodeCount).
//	properties - One value per declared property key.
//
// Outputs:
//
//	error - ErrNodeOutOfRange or ErrPropertyArity. The builder is unchanged
//	  on error.
func (b *Builder) Add(source, target int64, properties ...float64) error {
	if source < 0 || source >= b.nodeCount {
		return fmt.Errorf("%w: source %d not in [0, %d)", ErrNodeOutOfRange, source, b.nodeCount)
	}
	if target < 0 || target >= b.nodeCount {
		return fmt.Errorf("%w: target %d not in [0, %d)", ErrNodeOutOfRange, target, b.nodeCount)
	}
	if len(properties) != len(b.keys) {
		return fmt.Errorf("%w: got %d values for %d keys", ErrPropertyArity, len(properties), len(b.keys))
	}
	b.sources = append(b.sources, source)
	b.targets = append(b.targets, target)
	for i, v := range properties {
		b.values[i] = append(b.values[i], v)
	}
	return nil
}

// Len returns the number of relationships added so far.
func (b *Builder) Len() int {
	return len(b.sources)
}

// Build produces the topology and the declared property columns, each
// ordered by relationship index.
func (b *Builder) Build() (*Topology, map[string][]float64) {
	n := b.nodeCount
	offsets := make([]int64, n+1)
	for _, s := range b.sources {
		offsets[s+1]++
	}
	for i := int64(1); i <= n; i++ {
		offsets[i] += offsets[i-1]
	}

	cursor := make([]int64, n)
	copy(cursor, offsets[:n])
	targets := make([]int64, len(b.targets))
	columns := make([][]float64, len(b.keys))
	for k := range columns {
		columns[k] = make([]float64, len(b.targets))
	}
	for i, s := range b.sources {
		slot := cursor[s]
		cursor[s]++
		targets[slot] = b.targets[i]
		for k := range columns {
			columns[k][slot] = b.values[k][i]
		}
	}

	t := &Topology{
		nodeCount: n,
		outgoing:  &Adjacency{offsets: offsets, targets: targets},
	}
	if b.inverse {
		t.Incoming()
	}

	props := make(map[string][]float64, len(b.keys))
	for k, key := range b.keys {
		props[key] = columns[k]
	}
	return t, props
}
