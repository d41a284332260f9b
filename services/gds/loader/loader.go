// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader builds graph stores from manifest-described CSV files
// (local or gs://) and PostgreSQL relationship queries.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/idmap"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/telemetry"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

var tracer = otel.Tracer("gds.loader")

var (
	// ErrInvalidManifest is returned for manifests that fail validation.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrSource is returned when a source cannot be opened or read.
	ErrSource = errors.New("source unavailable")

	// ErrParse is returned for malformed rows.
	ErrParse = errors.New("malformed row")

	// ErrDuplicateNodeID is returned when the node file repeats an id.
	ErrDuplicateNodeID = errors.New("duplicate node id")
)

// checkEvery is the number of rows read between termination checks.
const checkEvery = 4096

// Option customizes a Loader.
type Option func(*Loader)

// WithOpener sets the source opener. Defaults to local files only.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithConnector sets how Postgres sections are connected.
func WithConnector(c Connector) Option {
	return func(l *Loader) { l.connect = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithStoreOptions forwards options to graph.NewStore.
func WithStoreOptions(opts ...graph.StoreOption) Option {
	return func(l *Loader) { l.storeOpts = append(l.storeOpts, opts...) }
}

// Loader reads manifests into stores.
//
// Thread Safety:
//
//	Safe for concurrent use; each Load builds an independent store.
type Loader struct {
	opener    Opener
	connect   Connector
	logger    *slog.Logger
	storeOpts []graph.StoreOption
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		opener:  RoutingOpener{Local: FileOpener{}},
		connect: PoolConnector,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile reads the manifest at path and loads it. Relative sources resolve
// against the manifest's directory.
func (l *Loader) LoadFile(ctx context.Context, path string, tracker progress.Tracker) (*graph.Store, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, m, filepath.Dir(path), tracker)
}

// Load builds a store from m.
//
// Description:
//
//	Reports a "Loading <name>" task with children "Nodes", one
//	"Relationships <type>" per type and "Properties". Cancellation of ctx
//	is checked every few thousand rows.
//
// Inputs:
//
//	ctx - Cancellation and tracing.
//	m - A validated manifest.
//	baseDir - Directory for relative local sources.
//	tracker - Progress; nil reports nowhere.
//
// Outputs:
//
//	*graph.Store - The loaded store.
//	error - ErrSource, ErrParse, ErrDuplicateNodeID, graph.ErrUnknownNodeID
//	  for relationships naming unknown nodes, or a termination error.
func (l *Loader) Load(ctx context.Context, m *Manifest, baseDir string, tracker progress.Tracker) (store *graph.Store, err error) {
	if tracker == nil {
		tracker = progress.Null()
	}
	ctx, span := tracer.Start(ctx, "loader.Load")
	span.SetAttributes(attribute.String("graph.name", m.Name))
	start := time.Now()
	defer func() {
		if err != nil {
			telemetry.SetSpanOutcome(span, err)
			tracker.EndSubTaskWithFailure(err)
		} else {
			tracker.EndSubTask()
		}
		span.End()
	}()

	tracker.BeginSubTaskWithDescription("Loading " + m.Name)
	flag := termination.FromContext(ctx)

	nodes, err := l.readNodes(ctx, m, baseDir, tracker, flag)
	if err != nil {
		return nil, err
	}
	store = graph.NewStore(m.Name, nodes.idMap, l.storeOpts...)

	var querier Querier
	if m.Postgres != nil {
		q, closeFn, err := l.connect(ctx, m.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		querier = q
	}
	for _, spec := range m.Relationships {
		if err := l.readRelationships(ctx, store, spec, baseDir, querier, tracker, flag); err != nil {
			return nil, err
		}
	}

	tracker.BeginSubTaskWithDescriptionAndVolume("Properties", int64(len(nodes.labels)+len(m.Nodes.Properties)))
	if err := nodes.apply(store, m.Nodes.Properties, tracker); err != nil {
		tracker.EndSubTaskWithFailure(err)
		return nil, err
	}
	tracker.EndSubTask()

	span.SetAttributes(
		attribute.Int64("graph.node_count", store.NodeCount()),
		attribute.Int64("graph.relationship_count", store.RelationshipCount()),
	)
	l.logger.Info("Loaded graph",
		slog.String("name", m.Name),
		slog.Int64("node_count", store.NodeCount()),
		slog.Int64("relationship_count", store.RelationshipCount()),
		slog.Int("relationship_types", len(m.Relationships)),
		slog.Duration("duration", time.Since(start)),
	)
	return store, nil
}

// ============================================================================
// Nodes
// ============================================================================

type nodeRows struct {
	idMap  *idmap.IDMap
	labels map[string][]bool
	cells  [][]string // per property spec, per node
}

func (l *Loader) readNodes(ctx context.Context, m *Manifest, baseDir string, tracker progress.Tracker, flag termination.Flag) (*nodeRows, error) {
	tracker.BeginSubTaskWithDescription("Nodes")
	location := resolve(baseDir, m.Nodes.Source)
	t, err := openCSV(ctx, l.opener, location)
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		return nil, err
	}
	defer t.Close()

	nodes, err := readNodeRows(t, m.Nodes, location, tracker, flag)
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		return nil, err
	}
	tracker.EndSubTask()
	return nodes, nil
}

func readNodeRows(t table, spec NodeSpec, location string, tracker progress.Tracker, flag termination.Flag) (*nodeRows, error) {
	idCol, err := column(t, location, spec.IDColumn)
	if err != nil {
		return nil, err
	}
	labelCol := -1
	if spec.LabelColumn != "" {
		if labelCol, err = column(t, location, spec.LabelColumn); err != nil {
			return nil, err
		}
	}
	propCols := make([]int, len(spec.Properties))
	for i, p := range spec.Properties {
		if propCols[i], err = column(t, location, p.Column); err != nil {
			return nil, err
		}
	}

	var ids []int64
	seen := make(map[int64]struct{})
	var labelRows [][]string
	cells := make([][]string, len(spec.Properties))
	for line := 2; ; line++ {
		row, err := t.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrParse, location, line, err)
		}
		if line%checkEvery == 0 {
			if err := flag.AssertRunning(); err != nil {
				return nil, err
			}
			tracker.LogProgress(checkEvery)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: id %q: %v", ErrParse, location, line, row[idCol], err)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %d at %s:%d", ErrDuplicateNodeID, id, location, line)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		if labelCol >= 0 {
			labelRows = append(labelRows, splitList(row[labelCol]))
		}
		for i, c := range propCols {
			cells[i] = append(cells[i], row[c])
		}
	}

	n := int64(len(ids))
	labels := map[string][]bool{}
	for node, ls := range labelRows {
		for _, label := range ls {
			mask, ok := labels[label]
			if !ok {
				mask = make([]bool, n)
				labels[label] = mask
			}
			mask[node] = true
		}
	}
	return &nodeRows{idMap: idmap.FromOriginalIDs(ids), labels: labels, cells: cells}, nil
}

// apply adds labels, then typed node properties, to store.
func (nr *nodeRows) apply(store *graph.Store, specs []PropertySpec, tracker progress.Tracker) error {
	for label, mask := range nr.labels {
		if err := store.AddNodeLabel(label, mask); err != nil {
			return err
		}
		tracker.LogProgress(1)
	}
	for i, spec := range specs {
		values, err := parseColumn(spec, nr.cells[i])
		if err != nil {
			return err
		}
		if err := store.AddNodeProperty(nil, spec.PropertyKey(), values); err != nil {
			return err
		}
		tracker.LogProgress(1)
	}
	return nil
}

// parseColumn converts raw cells into a typed column. Empty cells take the
// spec default when set and are absent otherwise.
func parseColumn(spec PropertySpec, cells []string) (properties.Values, error) {
	present := make([]bool, len(cells))
	allPresent := true
	fail := func(node int, cell string, err error) error {
		return fmt.Errorf("%w: property %q row %d: %q: %v", ErrParse, spec.PropertyKey(), node+1, cell, err)
	}

	switch spec.ValueType() {
	case properties.Long:
		values := make([]int64, len(cells))
		for node, cell := range cells {
			cell = strings.TrimSpace(cell)
			switch {
			case cell != "":
				v, err := strconv.ParseInt(cell, 10, 64)
				if err != nil {
					return nil, fail(node, cell, err)
				}
				values[node], present[node] = v, true
			case spec.Default != nil:
				values[node], present[node] = int64(*spec.Default), true
			default:
				allPresent = false
			}
		}
		return properties.NewLongValues(values, properties.WithPresence[int64](maskOrNil(present, allPresent))), nil

	case properties.Double:
		values := make([]float64, len(cells))
		for node, cell := range cells {
			cell = strings.TrimSpace(cell)
			switch {
			case cell != "":
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, fail(node, cell, err)
				}
				values[node], present[node] = v, true
			case spec.Default != nil:
				values[node], present[node] = *spec.Default, true
			default:
				values[node] = math.NaN()
				allPresent = false
			}
		}
		return properties.NewDoubleValues(values, properties.WithPresence[float64](maskOrNil(present, allPresent))), nil

	case properties.LongArray:
		values := make([][]int64, len(cells))
		for node, cell := range cells {
			for _, item := range splitList(cell) {
				v, err := strconv.ParseInt(item, 10, 64)
				if err != nil {
					return nil, fail(node, cell, err)
				}
				values[node] = append(values[node], v)
			}
		}
		return properties.NewLongArrayValues(values), nil

	case properties.FloatArray:
		values := make([][]float32, len(cells))
		for node, cell := range cells {
			for _, item := range splitList(cell) {
				v, err := strconv.ParseFloat(item, 32)
				if err != nil {
					return nil, fail(node, cell, err)
				}
				values[node] = append(values[node], float32(v))
			}
		}
		return properties.NewFloatArrayValues(values), nil

	default:
		values := make([][]float64, len(cells))
		for node, cell := range cells {
			for _, item := range splitList(cell) {
				v, err := strconv.ParseFloat(item, 64)
				if err != nil {
					return nil, fail(node, cell, err)
				}
				values[node] = append(values[node], v)
			}
		}
		return properties.NewDoubleArrayValues(values), nil
	}
}

func maskOrNil(present []bool, allPresent bool) []bool {
	if allPresent {
		return nil
	}
	return present
}

// ============================================================================
// Relationships
// ============================================================================

func (l *Loader) readRelationships(ctx context.Context, store *graph.Store, spec RelationshipSpec, baseDir string, querier Querier, tracker progress.Tracker, flag termination.Flag) error {
	tracker.BeginSubTaskWithDescription("Relationships " + spec.Type)

	var (
		t        table
		location string
		err      error
	)
	if spec.Query != "" {
		location = "query " + spec.Type
		t, err = openQuery(ctx, querier, spec.Query)
	} else {
		location = resolve(baseDir, spec.Source)
		t, err = openCSV(ctx, l.opener, location)
	}
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		return err
	}
	defer t.Close()

	topo, props, err := readRelationshipRows(t, spec, location, store.IDMap(), tracker, flag)
	if err == nil {
		err = store.AddRelationshipType(spec.Type, topo, props)
	}
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		return err
	}
	tracker.EndSubTask()
	return nil
}

func readRelationshipRows(t table, spec RelationshipSpec, location string, ids *idmap.IDMap, tracker progress.Tracker, flag termination.Flag) (*topology.Topology, map[string]properties.Values, error) {
	srcCol, err := column(t, location, spec.SourceColumn)
	if err != nil {
		return nil, nil, err
	}
	tgtCol, err := column(t, location, spec.TargetColumn)
	if err != nil {
		return nil, nil, err
	}
	keys := make([]string, len(spec.Properties))
	propCols := make([]int, len(spec.Properties))
	for i, p := range spec.Properties {
		keys[i] = p.PropertyKey()
		if propCols[i], err = column(t, location, p.Column); err != nil {
			return nil, nil, err
		}
	}

	opts := []topology.BuilderOption{topology.WithPropertyKeys(keys...)}
	if spec.InverseIndex {
		opts = append(opts, topology.WithInverseIndex())
	}
	b := topology.NewBuilder(ids.NodeCount(), opts...)

	mapped := func(row []string, col, line int) (int64, error) {
		original, err := strconv.ParseInt(strings.TrimSpace(row[col]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s:%d: node id %q: %v", ErrParse, location, line, row[col], err)
		}
		node, ok := ids.ToMapped(original)
		if !ok {
			return 0, fmt.Errorf("%w: %d at %s:%d", graph.ErrUnknownNodeID, original, location, line)
		}
		return node, nil
	}

	values := make([]float64, len(spec.Properties))
	for line := 2; ; line++ {
		row, err := t.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s:%d: %v", ErrParse, location, line, err)
		}
		if line%checkEvery == 0 {
			if err := flag.AssertRunning(); err != nil {
				return nil, nil, err
			}
			tracker.LogProgress(checkEvery)
		}
		source, err := mapped(row, srcCol, line)
		if err != nil {
			return nil, nil, err
		}
		target, err := mapped(row, tgtCol, line)
		if err != nil {
			return nil, nil, err
		}
		for i, c := range propCols {
			cell := strings.TrimSpace(row[c])
			switch {
			case cell != "":
				if values[i], err = strconv.ParseFloat(cell, 64); err != nil {
					return nil, nil, fmt.Errorf("%w: %s:%d: property %q: %v", ErrParse, location, line, keys[i], err)
				}
			case spec.Properties[i].Default != nil:
				values[i] = *spec.Properties[i].Default
			default:
				values[i] = math.NaN()
			}
		}
		if err := b.Add(source, target, values...); err != nil {
			return nil, nil, err
		}
	}

	topo, columns := b.Build()
	props := make(map[string]properties.Values, len(keys))
	for i, key := range keys {
		props[key] = relationshipColumn(spec.Properties[i].ValueType(), columns[key])
	}
	return topo, props, nil
}

// relationshipColumn types a built column. NaN marks absent entries.
func relationshipColumn(vt properties.ValueType, raw []float64) properties.Values {
	present := make([]bool, len(raw))
	allPresent := true
	for i, v := range raw {
		present[i] = !math.IsNaN(v)
		allPresent = allPresent && present[i]
	}
	mask := maskOrNil(present, allPresent)
	if vt == properties.Long {
		longs := make([]int64, len(raw))
		for i, v := range raw {
			if present[i] {
				longs[i] = int64(v)
			}
		}
		return properties.NewLongValues(longs, properties.WithPresence[int64](mask))
	}
	return properties.NewDoubleValues(raw, properties.WithPresence[float64](mask))
}

func splitList(cell string) []string {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
