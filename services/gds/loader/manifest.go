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
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
)

var validate = validator.New()

// Manifest describes a graph assembled from CSV files and SQL queries.
//
// Example:
//
//	name: social
//	nodes:
//	  source: people.csv
//	  id_column: id
//	  label_column: labels
//	  properties:
//	    - {column: age, type: long}
//	relationships:
//	  - type: KNOWS
//	    source: gs://bucket/knows.csv
//	    inverse_index: true
//	    properties:
//	      - {column: weight, type: double, default: 1}
type Manifest struct {
	Name          string             `yaml:"name" json:"name" validate:"required"`
	Nodes         NodeSpec           `yaml:"nodes" json:"nodes"`
	Relationships []RelationshipSpec `yaml:"relationships" json:"relationships" validate:"dive"`
	Postgres      *PostgresSpec      `yaml:"postgres,omitempty" json:"postgres,omitempty"`
}

// NodeSpec describes the node file.
type NodeSpec struct {
	// Source is a local path, relative to the manifest, or gs://bucket/object.
	Source string `yaml:"source" json:"source" validate:"required"`

	// IDColumn holds integer original ids. Defaults to "id".
	IDColumn string `yaml:"id_column" json:"id_column"`

	// LabelColumn holds ';'-separated labels. Optional.
	LabelColumn string `yaml:"label_column" json:"label_column,omitempty"`

	Properties []PropertySpec `yaml:"properties" json:"properties,omitempty" validate:"dive"`
}

// RelationshipSpec describes one relationship type. Exactly one of Source
// and Query is set.
type RelationshipSpec struct {
	Type string `yaml:"type" json:"type" validate:"required"`

	Source string `yaml:"source" json:"source,omitempty" validate:"required_without=Query,excluded_with=Query"`

	// Query is run against the manifest's Postgres database. Columns are
	// matched by name like CSV headers.
	Query string `yaml:"query" json:"query,omitempty"`

	// SourceColumn and TargetColumn default to "source" and "target".
	SourceColumn string `yaml:"source_column" json:"source_column,omitempty"`
	TargetColumn string `yaml:"target_column" json:"target_column,omitempty"`

	InverseIndex bool           `yaml:"inverse_index" json:"inverse_index"`
	Properties   []PropertySpec `yaml:"properties" json:"properties,omitempty" validate:"dive"`
}

// PropertySpec maps a column to a typed property.
type PropertySpec struct {
	Column string `yaml:"column" json:"column" validate:"required"`

	// Key defaults to Column.
	Key string `yaml:"key" json:"key,omitempty"`

	// Type is long, double, long_array, double_array or float_array. Arrays
	// are ';'-separated. Relationship properties must be long or double.
	Type string `yaml:"type" json:"type" validate:"oneof=long double long_array double_array float_array"`

	// Default replaces empty cells. Without one, empty cells are absent.
	Default *float64 `yaml:"default" json:"default,omitempty"`
}

// PostgresSpec configures the database used by relationship queries.
type PostgresSpec struct {
	// DSN may reference environment variables as ${VAR}.
	DSN string `yaml:"dsn" json:"dsn" validate:"required"`
}

// PropertyKey returns Key, defaulting to Column.
func (p PropertySpec) PropertyKey() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Column
}

// ValueType maps the manifest type name.
func (p PropertySpec) ValueType() properties.ValueType {
	switch p.Type {
	case "long":
		return properties.Long
	case "long_array":
		return properties.LongArray
	case "double_array":
		return properties.DoubleArray
	case "float_array":
		return properties.FloatArray
	default:
		return properties.Double
	}
}

// ReadManifest parses and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate applies defaults and checks the manifest.
func (m *Manifest) Validate() error {
	if m.Nodes.IDColumn == "" {
		m.Nodes.IDColumn = "id"
	}
	for i := range m.Relationships {
		r := &m.Relationships[i]
		if r.SourceColumn == "" {
			r.SourceColumn = "source"
		}
		if r.TargetColumn == "" {
			r.TargetColumn = "target"
		}
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	seen := make(map[string]bool, len(m.Relationships))
	for _, r := range m.Relationships {
		if seen[r.Type] {
			return fmt.Errorf("%w: relationship type %q listed twice", ErrInvalidManifest, r.Type)
		}
		seen[r.Type] = true
		if r.Query != "" && m.Postgres == nil {
			return fmt.Errorf("%w: relationship type %q uses a query but no postgres section is set", ErrInvalidManifest, r.Type)
		}
		for _, p := range r.Properties {
			if vt := p.ValueType(); vt != properties.Long && vt != properties.Double {
				return fmt.Errorf("%w: relationship property %q must be long or double", ErrInvalidManifest, p.PropertyKey())
			}
		}
	}
	return nil
}

// resolve makes a relative local path relative to the manifest directory.
func resolve(baseDir, source string) string {
	if isRemote(source) || filepath.IsAbs(source) || baseDir == "" {
		return source
	}
	return filepath.Join(baseDir, source)
}

// LocalSources returns the resolved paths of the file sources, skipping
// remote objects and queries.
func (m *Manifest) LocalSources(baseDir string) []string {
	var out []string
	add := func(source string) {
		if source != "" && !isRemote(source) {
			out = append(out, resolve(baseDir, source))
		}
	}
	add(m.Nodes.Source)
	for _, r := range m.Relationships {
		add(r.Source)
	}
	return out
}
