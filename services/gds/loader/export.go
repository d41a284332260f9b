// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
	"github.com/AleutianAI/AleutianGDS/services/gds/topology"
)

// ManifestFile is the manifest name Export writes.
const ManifestFile = "manifest.yaml"

// Export writes store as CSV files plus a manifest that loads it back.
//
// Description:
//
//	Writes nodes.csv with original ids, labels and node properties, one
//	file per relationship type with its properties, and manifest.yaml.
//	Absent property values are written as empty cells. Graph properties
//	are not exported.
//
// Inputs:
//
//	ctx - Checked between rows.
//	store - The graph to export.
//	dir - Output directory, created if missing.
//
// Outputs:
//
//	string - Path of the written manifest.
//	error - Non-nil on I/O failure or cancellation.
func Export(ctx context.Context, store *graph.Store, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	flag := termination.FromContext(ctx)
	schema := store.Schema()

	m := &Manifest{Name: store.Name(), Nodes: NodeSpec{Source: "nodes.csv", IDColumn: "id"}}
	if len(schema.NodeLabels) > 0 {
		m.Nodes.LabelColumn = "labels"
	}
	for _, p := range schema.NodeProperties {
		m.Nodes.Properties = append(m.Nodes.Properties, PropertySpec{Column: p.Key, Type: manifestType(p.ValueType)})
	}
	if err := writeNodes(store, schema, filepath.Join(dir, m.Nodes.Source), flag); err != nil {
		return "", err
	}

	for _, rel := range schema.RelationshipTypes {
		spec := RelationshipSpec{
			Type:         rel.Type,
			Source:       "relationships_" + fileSafe(rel.Type) + ".csv",
			InverseIndex: rel.InverseIndexed,
		}
		for _, p := range rel.Properties {
			spec.Properties = append(spec.Properties, PropertySpec{Column: p.Key, Type: manifestType(p.ValueType)})
		}
		if err := writeRelationships(store, spec, filepath.Join(dir, spec.Source), flag); err != nil {
			return "", err
		}
		m.Relationships = append(m.Relationships, spec)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding manifest: %w", err)
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func writeNodes(store *graph.Store, schema graph.Schema, path string, flag termination.Flag) error {
	var view graph.Graph
	if len(schema.NodeLabels) > 0 {
		var err error
		if view, err = store.Graph(nil, topology.Natural); err != nil {
			return err
		}
	}
	columns := make([]properties.Values, len(schema.NodeProperties))
	header := []string{"id"}
	if view != nil {
		header = append(header, "labels")
	}
	for i, p := range schema.NodeProperties {
		columns[i], _ = store.NodeProperty(p.Key)
		header = append(header, p.Key)
	}

	return writeCSV(path, header, func(w *csv.Writer) error {
		ids := store.IDMap()
		row := make([]string, len(header))
		labels := make([]string, 0, len(schema.NodeLabels))
		for node := range store.NodeCount() {
			if node%checkEvery == 0 {
				if err := flag.AssertRunning(); err != nil {
					return err
				}
			}
			row = row[:0]
			row = append(row, strconv.FormatInt(ids.ToOriginal(node), 10))
			if view != nil {
				labels = labels[:0]
				for _, l := range schema.NodeLabels {
					if view.HasLabel(node, l) {
						labels = append(labels, l)
					}
				}
				row = append(row, strings.Join(labels, ";"))
			}
			for _, col := range columns {
				cell, err := formatCell(col, node)
				if err != nil {
					return err
				}
				row = append(row, cell)
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeRelationships(store *graph.Store, spec RelationshipSpec, path string, flag termination.Flag) error {
	topo, ok := store.Topology(spec.Type)
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrRelationshipTypeNotFound, spec.Type)
	}
	columns := make([]properties.Values, len(spec.Properties))
	header := []string{"source", "target"}
	for i, p := range spec.Properties {
		columns[i], _ = store.RelationshipProperty(spec.Type, p.Column)
		header = append(header, p.Column)
	}

	return writeCSV(path, header, func(w *csv.Writer) error {
		ids := store.IDMap()
		row := make([]string, len(header))
		var rel int64
		for source, target := range topo.Edges() {
			if rel%checkEvery == 0 {
				if err := flag.AssertRunning(); err != nil {
					return err
				}
			}
			row = row[:0]
			row = append(row,
				strconv.FormatInt(ids.ToOriginal(source), 10),
				strconv.FormatInt(ids.ToOriginal(target), 10),
			)
			for _, col := range columns {
				cell, err := formatCell(col, rel)
				if err != nil {
					return err
				}
				row = append(row, cell)
			}
			if err := w.Write(row); err != nil {
				return err
			}
			rel++
		}
		return nil
	})
}

func writeCSV(path string, header []string, rows func(*csv.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := rows(w); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func formatCell(col properties.Values, id int64) (string, error) {
	if !col.HasValue(id) {
		return "", nil
	}
	switch col.ValueType() {
	case properties.Long:
		v, err := col.LongValue(id)
		return strconv.FormatInt(v, 10), err
	case properties.Double:
		v, err := col.DoubleValue(id)
		return strconv.FormatFloat(v, 'g', -1, 64), err
	case properties.LongArray:
		vs, err := col.LongArrayValue(id)
		return joinList(vs, func(v int64) string { return strconv.FormatInt(v, 10) }), err
	case properties.DoubleArray:
		vs, err := col.DoubleArrayValue(id)
		return joinList(vs, func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }), err
	case properties.FloatArray:
		vs, err := col.FloatArrayValue(id)
		return joinList(vs, func(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }), err
	default:
		return "", fmt.Errorf("%w: %s", properties.ErrUnsupportedType, col.ValueType())
	}
}

func joinList[T any](vs []T, format func(T) string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = format(v)
	}
	return strings.Join(parts, ";")
}

// manifestType maps a schema value type name to the manifest type name.
func manifestType(valueType string) string {
	return strings.ToLower(valueType)
}

func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
