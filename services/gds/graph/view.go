// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// Cursor is one relationship seen from a node.
type Cursor struct {
	// Source is the node the stream was opened for.
	Source int64

	// Target is the neighbor under the view's orientation.
	Target int64

	// RelationshipIndex is the index within Type's topology.
	RelationshipIndex int64

	// Type is the relationship type.
	Type string

	// Property is the bound relationship property, or the stream fallback
	// when no property is bound or the entry is absent.
	Property float64
}

// WeightedCursor is the weight-only form of Cursor.
type WeightedCursor struct {
	Source int64
	Target int64
	Weight float64
}

// Graph is a read-only projection of a store onto relationship types and
// an orientation.
//
// Thread Safety:
//
//	Safe for concurrent use. A view captures one store snapshot and never
//	observes later mutations.
type Graph interface {
	// NodeCount returns the number of nodes.
	NodeCount() int64

	// RelationshipCount returns the number of (source, target) entries
	// visible through the view. Undirected views count each stored
	// relationship twice.
	RelationshipCount() int64

	// Orientation returns the traversal orientation.
	Orientation() topology.Orientation

	// RelationshipTypes returns the selected types, sorted.
	RelationshipTypes() []string

	// Degree returns the number of cursors StreamRelationships yields.
	Degree(node int64) int64

	// Neighbors iterates neighbor ids of node over all selected types.
	Neighbors(node int64) iter.Seq[int64]

	// StreamRelationships iterates the relationships of node. fallback is
	// reported as Property when no value is available.
	StreamRelationships(node int64, fallback float64) iter.Seq[Cursor]

	// StreamRelationshipsWeighted is StreamRelationships without type and
	// index bookkeeping.
	StreamRelationshipsWeighted(node int64, fallback float64) iter.Seq[WeightedCursor]

	// HasRelationshipProperty reports whether a relationship property is
	// bound to the view.
	HasRelationshipProperty() bool

	// DefaultPropertyValue returns the bound property's default as a
	// float64, or NaN when none is bound.
	DefaultPropertyValue() float64

	// NodeProperties returns a node column.
	NodeProperties(key string) (properties.Values, bool)

	// NodePropertyKeys returns the node property keys, sorted.
	NodePropertyKeys() []string

	// HasLabel reports whether node carries label.
	HasLabel(node int64, label string) bool

	// ToOriginalNodeID maps an internal id to the original id. Panics when
	// internal is out of range.
	ToOriginalNodeID(internal int64) int64

	// ToMappedNodeID maps an original id to the internal id.
	ToMappedNodeID(original int64) (int64, bool)
}

// ViewOption configures Store.Graph.
type ViewOption func(*viewOptions)

type viewOptions struct {
	relationshipProperty string
}

// WithRelationshipProperty binds key as the view's relationship property.
// Every selected type must carry it.
func WithRelationshipProperty(key string) ViewOption {
	return func(o *viewOptions) {
		o.relationshipProperty = key
	}
}

// Graph builds a view over types in orientation o.
//
// Description:
//
//	No adjacency is copied. Reverse and Undirected views force the one-time
//	inverse synthesis of each selected type here, so streaming never pays
//	for it.
//
// Inputs:
//
//	types - Relationship types to select. Empty selects every type.
//	o - Traversal orientation.
//	opts - WithRelationshipProperty.
//
// Outputs:
//
//	Graph - The view.
//	error - ErrRelationshipTypeNotFound, ErrPropertyNotFound or
//	  topology.ErrInvalidOrientation.
func (s *Store) Graph(types []string, o topology.Orientation, opts ...ViewOption) (Graph, error) {
	start := time.Now()
	if o < topology.Natural || o > topology.Undirected {
		return nil, fmt.Errorf("%w: %d", topology.ErrInvalidOrientation, int(o))
	}
	var options viewOptions
	for _, opt := range opts {
		opt(&options)
	}

	st := s.current.Load()
	if len(types) == 0 {
		types = slices.Sorted(maps.Keys(st.relTypes))
	} else {
		types = slices.Clone(types)
		slices.Sort(types)
		types = slices.Compact(types)
	}

	v := &view{
		state:       st,
		orientation: o,
		types:       types,
		selected:    make([]*relationships, len(types)),
		weights:     make([]properties.Values, len(types)),
		defaultProp: math.NaN(),
		propKey:     options.relationshipProperty,
	}
	for i, relType := range types {
		rel, ok := st.relTypes[relType]
		if !ok {
			return nil, fmt.Errorf("%w: %q (have %v)", ErrRelationshipTypeNotFound, relType,
				slices.Sorted(maps.Keys(st.relTypes)))
		}
		if o.NeedsInverse() {
			rel.topology.Incoming()
		}
		v.selected[i] = rel
		if v.propKey == "" {
			continue
		}
		values, ok := rel.props.Values(v.propKey)
		if !ok {
			return nil, fmt.Errorf("%w: relationship property %q on type %q",
				ErrPropertyNotFound, v.propKey, relType)
		}
		v.weights[i] = values
		if i == 0 {
			v.defaultProp = defaultAsDouble(values)
		}
	}

	viewDuration.WithLabelValues(o.String()).Observe(time.Since(start).Seconds())
	return v, nil
}

func defaultAsDouble(values properties.Values) float64 {
	switch d := values.DefaultValue().(type) {
	case float64:
		return d
	case int64:
		if d == properties.DefaultLong {
			return math.NaN()
		}
		return float64(d)
	default:
		return math.NaN()
	}
}

type view struct {
	state       *state
	orientation topology.Orientation
	types       []string
	selected    []*relationships
	weights     []properties.Values
	propKey     string
	defaultProp float64
}

func (v *view) NodeCount() int64 { return v.state.idMap.NodeCount() }

func (v *view) Orientation() topology.Orientation { return v.orientation }

func (v *view) RelationshipTypes() []string { return slices.Clone(v.types) }

func (v *view) RelationshipCount() int64 {
	var total int64
	for _, rel := range v.selected {
		total += rel.topology.RelationshipCount()
	}
	if v.orientation == topology.Undirected {
		total *= 2
	}
	return total
}

func (v *view) Degree(node int64) int64 {
	v.checkNode(node)
	var degree int64
	for _, rel := range v.selected {
		degree += rel.topology.Degree(node, v.orientation)
	}
	return degree
}

func (v *view) Neighbors(node int64) iter.Seq[int64] {
	v.checkNode(node)
	return func(yield func(int64) bool) {
		for _, rel := range v.selected {
			for target := range rel.topology.Neighbors(node, v.orientation) {
				if !yield(target) {
					return
				}
			}
		}
	}
}

func (v *view) StreamRelationships(node int64, fallback float64) iter.Seq[Cursor] {
	v.checkNode(node)
	return func(yield func(Cursor) bool) {
		for i, rel := range v.selected {
			weights := v.weights[i]
			for target, relIdx := range rel.topology.Neighbors(node, v.orientation) {
				c := Cursor{
					Source:            node,
					Target:            target,
					RelationshipIndex: relIdx,
					Type:              v.types[i],
					Property:          weightOf(weights, relIdx, fallback),
				}
				if !yield(c) {
					return
				}
			}
		}
	}
}

func (v *view) StreamRelationshipsWeighted(node int64, fallback float64) iter.Seq[WeightedCursor] {
	v.checkNode(node)
	return func(yield func(WeightedCursor) bool) {
		for i, rel := range v.selected {
			weights := v.weights[i]
			for target, relIdx := range rel.topology.Neighbors(node, v.orientation) {
				if !yield(WeightedCursor{Source: node, Target: target, Weight: weightOf(weights, relIdx, fallback)}) {
					return
				}
			}
		}
	}
}

// weightOf reads entry relIdx of weights, or fallback when unbound or
// absent.
func weightOf(weights properties.Values, relIdx int64, fallback float64) float64 {
	if weights == nil || !weights.HasValue(relIdx) {
		return fallback
	}
	w, err := weights.DoubleValue(relIdx)
	if err != nil {
		return fallback
	}
	return w
}

func (v *view) HasRelationshipProperty() bool { return v.propKey != "" }

func (v *view) DefaultPropertyValue() float64 { return v.defaultProp }

func (v *view) NodeProperties(key string) (properties.Values, bool) {
	return v.state.nodeProps.Values(key)
}

func (v *view) NodePropertyKeys() []string { return v.state.nodeProps.Keys() }

func (v *view) HasLabel(node int64, label string) bool {
	v.checkNode(node)
	members, ok := v.state.labels[label]
	return ok && members[node]
}

func (v *view) ToOriginalNodeID(internal int64) int64 {
	return v.state.idMap.ToOriginal(internal)
}

func (v *view) ToMappedNodeID(original int64) (int64, bool) {
	return v.state.idMap.ToMapped(original)
}

func (v *view) checkNode(node int64) {
	if node < 0 || node >= v.state.idMap.NodeCount() {
		panic(properties.InvariantViolation{
			Message: fmt.Sprintf("node %d out of range [0, %d)", node, v.state.idMap.NodeCount()),
		})
	}
}
