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
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/idmap"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

var tracer = otel.Tracer("gds.graph")

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	viewDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gds_graph_view_duration_seconds",
		Help:    "Time to construct a graph view, including inverse index synthesis",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 12),
	}, []string{"orientation"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gds_graph_mutations_total",
		Help: "Graph store mutations by operation and result",
	}, []string{"operation", "result"})
)

func recordMutation(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	mutationsTotal.WithLabelValues(op, result).Inc()
}

// ==============================================================================
// GraphStore
// ==============================================================================

// GraphStore is the surface algorithms and loaders use.
type GraphStore interface {
	// Name returns the catalog name of the store.
	Name() string

	// NodeCount returns the number of nodes.
	NodeCount() int64

	// RelationshipCount returns the number of relationships over all types.
	RelationshipCount() int64

	// RelationshipTypes returns the relationship type names, sorted.
	RelationshipTypes() []string

	// Schema describes labels, types and property keys.
	Schema() Schema

	// Graph builds a view over types (all types when empty) in the given
	// orientation.
	Graph(types []string, orientation topology.Orientation, opts ...ViewOption) (Graph, error)

	// AddNodeLabel declares a label with a membership mask.
	AddNodeLabel(label string, members []bool) error

	// AddNodeProperty attaches a node column.
	AddNodeProperty(labels []string, key string, values properties.Values) error

	// AddRelationshipProperty attaches a relationship column to one type.
	AddRelationshipProperty(relType, key string, values properties.Values) error

	// AddGraphProperty attaches a graph-level column.
	AddGraphProperty(key string, values properties.Values) error

	// AddRelationshipType adds a type with its topology and properties.
	AddRelationshipType(relType string, topo *topology.Topology, props map[string]properties.Values) error

	// RemoveNodeProperty drops a node column.
	RemoveNodeProperty(key string) error

	// CommitInducedSubgraphByOriginalNodeIDs projects the store onto a node
	// selection as a new store.
	CommitInducedSubgraphByOriginalNodeIDs(ctx context.Context, name string, ids []int64) (*InductionResult, error)
}

// relationships is one type's topology and properties.
type relationships struct {
	topology *topology.Topology
	props    *properties.Store
}

// state is an immutable snapshot of a store.
type state struct {
	idMap      *idmap.IDMap
	labels     map[string][]bool
	nodeProps  *properties.Store
	relTypes   map[string]*relationships
	graphProps *properties.Store
	modifiedAt time.Time
}

func (st *state) clone() *state {
	next := *st
	next.labels = maps.Clone(st.labels)
	next.relTypes = maps.Clone(st.relTypes)
	next.modifiedAt = time.Now()
	return &next
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithExecutor sets the executor used by parallel store operations.
func WithExecutor(exec *concurrency.Executor) StoreOption {
	return func(s *Store) {
		s.exec = exec
	}
}

// Store is the concrete GraphStore.
//
// Thread Safety:
//
//	Safe for concurrent use. See the package documentation.
type Store struct {
	name      string
	createdAt time.Time
	exec      *concurrency.Executor

	writeMu sync.Mutex
	current atomic.Pointer[state]
}

// NewStore creates a store over ids with no labels, types or properties.
func NewStore(name string, ids *idmap.IDMap, opts ...StoreOption) *Store {
	s := &Store{name: name, createdAt: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		s.exec = concurrency.NewExecutor(0, nil)
	}
	s.current.Store(&state{
		idMap:      ids,
		labels:     map[string][]bool{},
		nodeProps:  properties.EmptyStore(),
		relTypes:   map[string]*relationships{},
		graphProps: properties.EmptyStore(),
		modifiedAt: s.createdAt,
	})
	return s
}

func (s *Store) Name() string { return s.name }

// CreatedAt returns the construction time.
func (s *Store) CreatedAt() time.Time { return s.createdAt }

// ModifiedAt returns the time of the last published mutation.
func (s *Store) ModifiedAt() time.Time { return s.current.Load().modifiedAt }

// IDMap returns the node id mapping.
func (s *Store) IDMap() *idmap.IDMap { return s.current.Load().idMap }

func (s *Store) NodeCount() int64 {
	return s.current.Load().idMap.NodeCount()
}

func (s *Store) RelationshipCount() int64 {
	var total int64
	for _, rel := range s.current.Load().relTypes {
		total += rel.topology.RelationshipCount()
	}
	return total
}

// RelationshipCountOf returns the count of one type.
func (s *Store) RelationshipCountOf(relType string) (int64, error) {
	rel, ok := s.current.Load().relTypes[relType]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrRelationshipTypeNotFound, relType)
	}
	return rel.topology.RelationshipCount(), nil
}

func (s *Store) RelationshipTypes() []string {
	return slices.Sorted(maps.Keys(s.current.Load().relTypes))
}

// NodeLabels returns the declared labels, sorted.
func (s *Store) NodeLabels() []string {
	return slices.Sorted(maps.Keys(s.current.Load().labels))
}

// NodeProperty returns a node column.
func (s *Store) NodeProperty(key string) (properties.Values, bool) {
	return s.current.Load().nodeProps.Values(key)
}

// RelationshipProperty returns a relationship column of one type.
func (s *Store) RelationshipProperty(relType, key string) (properties.Values, bool) {
	rel, ok := s.current.Load().relTypes[relType]
	if !ok {
		return nil, false
	}
	return rel.props.Values(key)
}

// GraphProperty returns a graph-level column.
func (s *Store) GraphProperty(key string) (properties.Values, bool) {
	return s.current.Load().graphProps.Values(key)
}

// Topology returns the topology of one type.
func (s *Store) Topology(relType string) (*topology.Topology, bool) {
	rel, ok := s.current.Load().relTypes[relType]
	if !ok {
		return nil, false
	}
	return rel.topology, true
}

// ==============================================================================
// Mutations
// ==============================================================================

// mutate serializes writers, applies fn to a clone of the current state and
// publishes the clone when fn succeeds. On error nothing is published.
func (s *Store) mutate(op string, fn func(next *state) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.current.Load().clone()
	err := fn(next)
	recordMutation(op, err)
	if err != nil {
		return err
	}
	s.current.Store(next)
	return nil
}

func (s *Store) AddNodeLabel(label string, members []bool) error {
	return s.mutate("add_node_label", func(next *state) error {
		if int64(len(members)) != next.idMap.NodeCount() {
			return fmt.Errorf("%w: label %q has %d entries for %d nodes",
				ErrCardinalityMismatch, label, len(members), next.idMap.NodeCount())
		}
		next.labels[label] = members
		return nil
	})
}

// AddNodeProperty attaches values under key, replacing an existing column.
//
// Inputs:
//
//	labels - Labels the property is declared for. Empty means all nodes.
//	  Each must already exist.
//	key - Property key.
//	values - One entry per node.
//
// Outputs:
//
//	error - ErrCardinalityMismatch or ErrLabelNotFound. The store is
//	  unchanged on error.
func (s *Store) AddNodeProperty(labels []string, key string, values properties.Values) error {
	return s.mutate("add_node_property", func(next *state) error {
		if values.ElementCount() != next.idMap.NodeCount() {
			return fmt.Errorf("%w: node property %q has %d entries for %d nodes",
				ErrCardinalityMismatch, key, values.ElementCount(), next.idMap.NodeCount())
		}
		for _, label := range labels {
			if _, ok := next.labels[label]; !ok {
				return fmt.Errorf("%w: %q", ErrLabelNotFound, label)
			}
		}
		next.nodeProps = next.nodeProps.With(properties.Property{
			Key: key, Values: values, Labels: slices.Clone(labels),
		})
		return nil
	})
}

func (s *Store) RemoveNodeProperty(key string) error {
	return s.mutate("remove_node_property", func(next *state) error {
		if _, ok := next.nodeProps.Get(key); !ok {
			return fmt.Errorf("%w: node property %q", ErrPropertyNotFound, key)
		}
		next.nodeProps = next.nodeProps.Without(key)
		return nil
	})
}

// AddRelationshipProperty attaches values to relType under key. Entry i
// belongs to relationship index i of that type.
func (s *Store) AddRelationshipProperty(relType, key string, values properties.Values) error {
	return s.mutate("add_relationship_property", func(next *state) error {
		rel, ok := next.relTypes[relType]
		if !ok {
			return fmt.Errorf("%w: %q", ErrRelationshipTypeNotFound, relType)
		}
		if values.ElementCount() != rel.topology.RelationshipCount() {
			return fmt.Errorf("%w: relationship property %q has %d entries for %d %s relationships",
				ErrCardinalityMismatch, key, values.ElementCount(), rel.topology.RelationshipCount(), relType)
		}
		next.relTypes[relType] = &relationships{
			topology: rel.topology,
			props:    rel.props.With(properties.Property{Key: key, Values: values}),
		}
		return nil
	})
}

// AddGraphProperty attaches a graph-level column. Graph properties are not
// tied to an entity, so any element count is accepted.
func (s *Store) AddGraphProperty(key string, values properties.Values) error {
	return s.mutate("add_graph_property", func(next *state) error {
		if values == nil {
			return fmt.Errorf("%w: graph property %q has no values", ErrCardinalityMismatch, key)
		}
		next.graphProps = next.graphProps.With(properties.Property{Key: key, Values: values})
		return nil
	})
}

// AddRelationshipType adds a type with its topology and property columns,
// all validated before anything is published.
func (s *Store) AddRelationshipType(relType string, topo *topology.Topology, props map[string]properties.Values) error {
	return s.mutate("add_relationship_type", func(next *state) error {
		if _, exists := next.relTypes[relType]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateRelationshipType, relType)
		}
		if topo.NodeCount() != next.idMap.NodeCount() {
			return fmt.Errorf("%w: %q spans %d nodes, store has %d",
				ErrTopologyMismatch, relType, topo.NodeCount(), next.idMap.NodeCount())
		}
		ps := properties.EmptyStore()
		for _, key := range slices.Sorted(maps.Keys(props)) {
			values := props[key]
			if values.ElementCount() != topo.RelationshipCount() {
				return fmt.Errorf("%w: relationship property %q has %d entries for %d %s relationships",
					ErrCardinalityMismatch, key, values.ElementCount(), topo.RelationshipCount(), relType)
			}
			ps = ps.With(properties.Property{Key: key, Values: values})
		}
		next.relTypes[relType] = &relationships{topology: topo, props: ps}
		return nil
	})
}

// ==============================================================================
// Schema
// ==============================================================================

// PropertySchema describes one property column.
type PropertySchema struct {
	Key       string   `json:"key"`
	ValueType string   `json:"value_type"`
	Labels    []string `json:"labels,omitempty"`
}

// RelationshipTypeSchema describes one relationship type.
type RelationshipTypeSchema struct {
	Type              string           `json:"type"`
	RelationshipCount int64            `json:"relationship_count"`
	InverseIndexed    bool             `json:"inverse_indexed"`
	Properties        []PropertySchema `json:"properties"`
}

// Schema describes the contents of a store.
type Schema struct {
	NodeLabels        []string                 `json:"node_labels"`
	NodeProperties    []PropertySchema         `json:"node_properties"`
	RelationshipTypes []RelationshipTypeSchema `json:"relationship_types"`
	GraphProperties   []PropertySchema         `json:"graph_properties"`
}

func (s *Store) Schema() Schema {
	st := s.current.Load()
	schema := Schema{
		NodeLabels:      slices.Sorted(maps.Keys(st.labels)),
		NodeProperties:  propertySchemas(st.nodeProps),
		GraphProperties: propertySchemas(st.graphProps),
	}
	for _, relType := range slices.Sorted(maps.Keys(st.relTypes)) {
		rel := st.relTypes[relType]
		schema.RelationshipTypes = append(schema.RelationshipTypes, RelationshipTypeSchema{
			Type:              relType,
			RelationshipCount: rel.topology.RelationshipCount(),
			InverseIndexed:    rel.topology.HasInverse(),
			Properties:        propertySchemas(rel.props),
		})
	}
	return schema
}

func propertySchemas(ps *properties.Store) []PropertySchema {
	out := make([]PropertySchema, 0, ps.Len())
	for _, key := range ps.Keys() {
		p, _ := ps.Get(key)
		out = append(out, PropertySchema{Key: key, ValueType: p.Values.ValueType().String(), Labels: p.Labels})
	}
	return out
}
