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
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// InductionResult is the outcome of projecting a store onto a node
// selection.
type InductionResult struct {
	// Store is the new store. The source store is unchanged.
	Store *Store

	// OldToNewMapping maps each surviving node's internal id in the source
	// store to its internal id in Store.
	OldToNewMapping map[int64]int64

	// RelationshipsKeptByType counts surviving relationships per type. The
	// counts sum to Store.RelationshipCount().
	RelationshipsKeptByType map[string]int64
}

// CommitInducedSubgraphByOriginalNodeIDs builds a new store restricted to
// the nodes whose original ids are in ids.
//
// Description:
//
//	Surviving nodes keep their relative internal order. Every relationship
//	type keeps only the relationships with both endpoints selected, remapped
//	into the new id space, and relationship properties follow their
//	relationships. Types are filtered in parallel on the store's executor.
//	Node labels and node properties are subset; graph properties are
//	shared.
//
// Inputs:
//
//	ctx - Context for tracing and cancellation.
//	name - Name of the new store.
//	ids - Selected original ids. Duplicates are ignored.
//
// Outputs:
//
//	*InductionResult - The new store and its bookkeeping.
//	error - ErrUnknownNodeID, or a termination error when ctx ends.
//
// Thread Safety:
//
//	Reads one snapshot of the source store; concurrent mutations of the
//	source are not observed.
func (s *Store) CommitInducedSubgraphByOriginalNodeIDs(ctx context.Context, name string, ids []int64) (*InductionResult, error) {
	ctx, span := tracer.Start(ctx, "Store.CommitInducedSubgraphByOriginalNodeIDs",
		trace.WithAttributes(
			attribute.String("graph.source", s.name),
			attribute.String("graph.name", name),
			attribute.Int("graph.selection_size", len(ids)),
		),
	)
	defer span.End()
	start := time.Now()

	st := s.current.Load()
	newIDs, oldToNew, err := st.idMap.Induce(ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown node id")
		return nil, fmt.Errorf("%w: %w", ErrUnknownNodeID, err)
	}
	newCount := newIDs.NodeCount()

	newToOld := make([]int64, 0, newCount)
	mapping := make(map[int64]int64, newCount)
	for oldID, newID := range oldToNew {
		if newID < 0 {
			continue
		}
		newToOld = append(newToOld, int64(oldID))
		mapping[int64(oldID)] = newID
	}

	types := slices.Sorted(maps.Keys(st.relTypes))
	induced := make([]*relationships, len(types))
	err = s.exec.Scope(ctx, termination.FromContext(ctx), func(scope *concurrency.Scope) error {
		scope.SpawnMany(len(types), func(_ context.Context, i int) error {
			rel := st.relTypes[types[i]]
			topo, kept := rel.topology.Induce(oldToNew, newCount)
			induced[i] = &relationships{topology: topo, props: rel.props.Subset(kept)}
			return nil
		})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "induction failed")
		return nil, err
	}

	next := &state{
		idMap:      newIDs,
		labels:     make(map[string][]bool, len(st.labels)),
		nodeProps:  st.nodeProps.Subset(newToOld),
		relTypes:   make(map[string]*relationships, len(types)),
		graphProps: st.graphProps,
		modifiedAt: time.Now(),
	}
	for label, members := range st.labels {
		next.labels[label] = subsetMask(members, newToOld)
	}
	kept := make(map[string]int64, len(types))
	for i, relType := range types {
		next.relTypes[relType] = induced[i]
		kept[relType] = induced[i].topology.RelationshipCount()
	}

	store := &Store{name: name, createdAt: next.modifiedAt, exec: s.exec}
	store.current.Store(next)

	span.SetAttributes(
		attribute.Int64("graph.node_count", newCount),
		attribute.Int64("graph.relationship_count", store.RelationshipCount()),
		attribute.Int64("graph.duration_ms", time.Since(start).Milliseconds()),
	)
	recordMutation("induce", nil)
	return &InductionResult{Store: store, OldToNewMapping: mapping, RelationshipsKeptByType: kept}, nil
}

func subsetMask(members []bool, ids []int64) []bool {
	out := make([]bool, len(ids))
	for i, id := range ids {
		out[i] = members[id]
	}
	return out
}

// InduceByFilter selects nodes with a compiled NodeFilter and commits the
// induced subgraph under name.
func (s *Store) InduceByFilter(ctx context.Context, name string, filter *NodeFilter) (*InductionResult, error) {
	selected, err := filter.Select(ctx, s)
	if err != nil {
		return nil, err
	}
	return s.CommitInducedSubgraphByOriginalNodeIDs(ctx, name, selected)
}

// nodeRow assembles the property map a filter sees for one node.
func nodeRow(st *state, node int64) map[string]any {
	row := make(map[string]any, st.nodeProps.Len())
	for _, key := range st.nodeProps.Keys() {
		values, _ := st.nodeProps.Values(key)
		if !values.HasValue(node) {
			continue
		}
		row[key] = propertyValue(values, node)
	}
	return row
}

func propertyValue(values properties.Values, id int64) any {
	switch values.ValueType() {
	case properties.Long:
		v, _ := values.LongValue(id)
		return v
	case properties.Double:
		v, _ := values.DoubleValue(id)
		return v
	case properties.LongArray:
		v, _ := values.LongArrayValue(id)
		return v
	default:
		v, _ := values.DoubleArrayValue(id)
		return v
	}
}
