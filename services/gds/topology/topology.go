// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package topology stores the adjacency of one relationship type in
// compressed sparse row form.
//
// # Layout
//
// The outgoing adjacency is a CSR pair: offsets (nodeCount+1 entries) and
// targets. A relationship's index is its slot in the outgoing targets
// array, so relationship properties are addressed by that slot. The
// incoming adjacency is the transpose of the outgoing one and carries the
// relationship index of every entry. It is synthesized on first use by a
// Reverse or Undirected traversal unless the builder was asked for it
// eagerly.
//
// # Thread Safety
//
// A Topology is immutable after Build, except for the one-time inverse
// synthesis which is guarded by sync.Once. All methods are safe for
// concurrent use.
package topology

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AbsentTarget is returned by positional lookups that fall outside a
// node's adjacency.
const AbsentTarget int64 = -1

var (
	// ErrNodeOutOfRange is returned when an edge endpoint is not a valid
	// internal id.
	ErrNodeOutOfRange = errors.New("node id out of range")

	// ErrInvalidOrientation is returned for unknown orientation names.
	ErrInvalidOrientation = errors.New("invalid orientation")

	// ErrPropertyArity is returned when an edge carries a different number
	// of property values than the builder declared keys.
	ErrPropertyArity = errors.New("relationship property arity mismatch")
)

var inverseBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "gds_topology_inverse_build_duration_seconds",
	Help:    "Time spent synthesizing the incoming adjacency of a relationship type",
	Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
})

// ==============================================================================
// Adjacency
// ==============================================================================

// Adjacency is one direction of a CSR adjacency.
type Adjacency struct {
	offsets []int64
	targets []int64

	// relationships holds the relationship index of each slot. Nil means
	// the slot is the relationship index.
	relationships []int64
}

// Degree returns the number of entries for node.
func (a *Adjacency) Degree(node int64) int64 {
	return a.offsets[node+1] - a.offsets[node]
}

// Targets returns the neighbor slice of node. The slice aliases internal
// storage and must not be modified.
func (a *Adjacency) Targets(node int64) []int64 {
	return a.targets[a.offsets[node]:a.offsets[node+1]:a.offsets[node+1]]
}

// Target returns the i-th neighbor of node, or AbsentTarget.
func (a *Adjacency) Target(node, i int64) int64 {
	if i < 0 || i >= a.Degree(node) {
		return AbsentTarget
	}
	return a.targets[a.offsets[node]+i]
}

// relationship returns the relationship index stored at slot.
func (a *Adjacency) relationship(slot int64) int64 {
	if a.relationships == nil {
		return slot
	}
	return a.relationships[slot]
}

// Entries iterates (target, relationship index) pairs of node.
func (a *Adjacency) Entries(node int64) iter.Seq2[int64, int64] {
	return func(yield func(int64, int64) bool) {
		for slot := a.offsets[node]; slot < a.offsets[node+1]; slot++ {
			if !yield(a.targets[slot], a.relationship(slot)) {
				return
			}
		}
	}
}

// ==============================================================================
// Topology
// ==============================================================================

// Topology is the adjacency of one relationship type.
type Topology struct {
	nodeCount int64
	outgoing  *Adjacency

	inverseOnce sync.Once
	incoming    atomic.Pointer[Adjacency]
}

// NodeCount returns the size of the node id space the topology spans.
func (t *Topology) NodeCount() int64 {
	return t.nodeCount
}

// RelationshipCount returns the number of stored relationships.
func (t *Topology) RelationshipCount() int64 {
	return int64(len(t.outgoing.targets))
}

// Outgoing returns the stored adjacency.
func (t *Topology) Outgoing() *Adjacency {
	return t.outgoing
}

// HasInverse reports whether the incoming adjacency has been built.
func (t *Topology) HasInverse() bool {
	return t.incoming.Load() != nil
}

// Incoming returns the transposed adjacency, synthesizing it on first call.
//
// Description:
//
//	The build is a stable counting sort over targets, O(nodes + edges), and
//	runs at most once per topology. Concurrent callers block until it is
//	done and then share the result.
func (t *Topology) Incoming() *Adjacency {
	if in := t.incoming.Load(); in != nil {
		return in
	}
	t.inverseOnce.Do(func() {
		start := time.Now()
		t.incoming.Store(transpose(t.nodeCount, t.outgoing))
		inverseBuildDuration.Observe(time.Since(start).Seconds())
	})
	return t.incoming.Load()
}

// Degree returns the degree of node under orientation o.
func (t *Topology) Degree(node int64, o Orientation) int64 {
	switch o {
	case Reverse:
		return t.Incoming().Degree(node)
	case Undirected:
		return t.outgoing.Degree(node) + t.Incoming().Degree(node)
	default:
		return t.outgoing.Degree(node)
	}
}

// Neighbors iterates (neighbor, relationship index) pairs of node under
// orientation o. Undirected yields outgoing entries first, then incoming
// ones, without materializing the union.
func (t *Topology) Neighbors(node int64, o Orientation) iter.Seq2[int64, int64] {
	switch o {
	case Reverse:
		return t.Incoming().Entries(node)
	case Undirected:
		out, in := t.outgoing, t.Incoming()
		return func(yield func(int64, int64) bool) {
			for target, rel := range out.Entries(node) {
				if !yield(target, rel) {
					return
				}
			}
			for source, rel := range in.Entries(node) {
				if !yield(source, rel) {
					return
				}
			}
		}
	default:
		return t.outgoing.Entries(node)
	}
}

// Edges iterates every stored (source, target) pair in relationship index
// order.
func (t *Topology) Edges() iter.Seq2[int64, int64] {
	return func(yield func(int64, int64) bool) {
		for source := int64(0); source < t.nodeCount; source++ {
			for _, target := range t.outgoing.Targets(source) {
				if !yield(source, target) {
					return
				}
			}
		}
	}
}

// Induce keeps the relationships whose endpoints both survive a node
// selection and remaps them into the new id space.
//
// Inputs:
//
//	oldToNew - Old internal id to new internal id, -1 for dropped nodes.
//	newNodeCount - Size of the new id space.
//
// Outputs:
//
//	*Topology - The induced topology. Its inverse is built eagerly when this
//	  topology already had one.
//	[]int64 - Old relationship index of every kept relationship, in new
//	  relationship index order.
func (t *Topology) Induce(oldToNew []int64, newNodeCount int64) (*Topology, []int64) {
	offsets := make([]int64, newNodeCount+1)
	targets := make([]int64, 0)
	kept := make([]int64, 0)

	for oldSource := int64(0); oldSource < t.nodeCount; oldSource++ {
		newSource := oldToNew[oldSource]
		if newSource < 0 {
			continue
		}
		for slot := t.outgoing.offsets[oldSource]; slot < t.outgoing.offsets[oldSource+1]; slot++ {
			newTarget := oldToNew[t.outgoing.targets[slot]]
			if newTarget < 0 {
				continue
			}
			targets = append(targets, newTarget)
			kept = append(kept, slot)
			offsets[newSource+1]++
		}
	}
	for i := int64(1); i <= newNodeCount; i++ {
		offsets[i] += offsets[i-1]
	}

	induced := &Topology{
		nodeCount: newNodeCount,
		outgoing:  &Adjacency{offsets: offsets, targets: targets},
	}
	if t.HasInverse() {
		induced.Incoming()
	}
	return induced, kept
}

// Empty returns a topology with no relationships over nodeCount nodes.
func Empty(nodeCount int64) *Topology {
	return &Topology{
		nodeCount: nodeCount,
		outgoing:  &Adjacency{offsets: make([]int64, nodeCount+1), targets: []int64{}},
	}
}

// FromCSR wraps an existing CSR pair after validating it.
//
// Inputs:
//
//	nodeCount - Size of the node id space.
//	offsets - nodeCount+1 non-decreasing offsets starting at 0.
//	targets - Neighbor ids, each in [0, nodeCount).
//
// Outputs:
//
//	*Topology - The topology. The slices are retained, not copied.
//	error - ErrNodeOutOfRange when the pair is malformed.
func FromCSR(nodeCount int64, offsets, targets []int64) (*Topology, error) {
	out := &Adjacency{offsets: offsets, targets: targets}
	if err := out.validate(nodeCount); err != nil {
		return nil, err
	}
	return &Topology{nodeCount: nodeCount, outgoing: out}, nil
}

// transpose builds the incoming adjacency from the outgoing one.
func transpose(nodeCount int64, out *Adjacency) *Adjacency {
	offsets := make([]int64, nodeCount+1)
	for _, target := range out.targets {
		offsets[target+1]++
	}
	for i := int64(1); i <= nodeCount; i++ {
		offsets[i] += offsets[i-1]
	}

	cursor := make([]int64, nodeCount)
	copy(cursor, offsets[:nodeCount])
	sources := make([]int64, len(out.targets))
	relationships := make([]int64, len(out.targets))
	for source := int64(0); source < nodeCount; source++ {
		for slot := out.offsets[source]; slot < out.offsets[source+1]; slot++ {
			target := out.targets[slot]
			pos := cursor[target]
			sources[pos] = source
			relationships[pos] = out.relationship(slot)
			cursor[target]++
		}
	}
	return &Adjacency{offsets: offsets, targets: sources, relationships: relationships}
}

// validate checks that every target is a valid internal id.
func (a *Adjacency) validate(nodeCount int64) error {
	if int64(len(a.offsets)) != nodeCount+1 {
		return fmt.Errorf("%w: offsets length %d for %d nodes", ErrNodeOutOfRange, len(a.offsets), nodeCount)
	}
	if a.offsets[0] != 0 || a.offsets[nodeCount] != int64(len(a.targets)) {
		return fmt.Errorf("%w: offsets do not span %d targets", ErrNodeOutOfRange, len(a.targets))
	}
	for i := int64(0); i < nodeCount; i++ {
		if a.offsets[i] > a.offsets[i+1] {
			return fmt.Errorf("%w: offsets decrease at node %d", ErrNodeOutOfRange, i)
		}
	}
	for _, target := range a.targets {
		if target < 0 || target >= nodeCount {
			return fmt.Errorf("%w: target %d not in [0, %d)", ErrNodeOutOfRange, target, nodeCount)
		}
	}
	return nil
}
