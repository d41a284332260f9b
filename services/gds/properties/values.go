// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package properties provides typed columnar storage for node,
// relationship and graph properties.
//
// # Addressing
//
// Node properties are indexed by internal node id, relationship properties
// by relationship index within their type. Every column reports an element
// count that must match the owning entity's cardinality.
//
// # Missing Values
//
// A column may carry a presence mask. Absent entries read as the column's
// default value; HasValue tells "present but equal to the default" apart
// from "absent". Typed accessors on a column of another type return
// ErrUnsupportedType.
//
// # Invariants
//
// Out-of-range ids, ragged arrays read through a declared dimension, and
// NaN in strict feature extraction panic with an InvariantViolation. They
// indicate a defect upstream, not a recoverable condition.
//
// # Thread Safety
//
// Columns are immutable after construction and safe for concurrent reads.
package properties

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnsupportedType is returned by a typed accessor that does not
	// match the column's value type.
	ErrUnsupportedType = errors.New("unsupported property value type")

	// ErrUnknownValueType is returned when parsing an unknown type name.
	ErrUnknownValueType = errors.New("unknown property value type")
)

// InvariantViolation is the panic value for violated storage invariants.
type InvariantViolation struct {
	Message string
}

// Error implements error.
func (v InvariantViolation) Error() string {
	return "property invariant violated: " + v.Message
}

func violate(format string, args ...any) {
	panic(InvariantViolation{Message: fmt.Sprintf(format, args...)})
}

// ==============================================================================
// Value Types
// ==============================================================================

// ValueType tags the element type of a column.
type ValueType int

const (
	// Long is a 64-bit integer scalar.
	Long ValueType = iota
	// Double is a 64-bit float scalar.
	Double
	// LongArray is a variable-length int64 array.
	LongArray
	// DoubleArray is a variable-length float64 array.
	DoubleArray
	// FloatArray is a variable-length float32 array.
	FloatArray
)

// String returns the type name.
func (t ValueType) String() string {
	switch t {
	case Long:
		return "LONG"
	case Double:
		return "DOUBLE"
	case LongArray:
		return "LONG_ARRAY"
	case DoubleArray:
		return "DOUBLE_ARRAY"
	case FloatArray:
		return "FLOAT_ARRAY"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

// IsArray reports whether elements are arrays.
func (t ValueType) IsArray() bool {
	return t == LongArray || t == DoubleArray || t == FloatArray
}

// ParseValueType parses a type name, case-insensitively.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "INT", "INTEGER":
		return Long, nil
	case "DOUBLE", "FLOAT64", "FLOAT":
		return Double, nil
	case "LONG_ARRAY":
		return LongArray, nil
	case "DOUBLE_ARRAY":
		return DoubleArray, nil
	case "FLOAT_ARRAY":
		return FloatArray, nil
	default:
		return Long, fmt.Errorf("%w: %q", ErrUnknownValueType, s)
	}
}

// DefaultLong is the default value of Long columns.
const DefaultLong int64 = math.MinInt64

// DefaultDouble returns the default value of Double columns.
func DefaultDouble() float64 {
	return math.NaN()
}

// RaggedDimension is reported by array columns whose present entries do
// not share one length.
const RaggedDimension = -1

// ==============================================================================
// Values
// ==============================================================================

// Values is a typed, immutable property column.
type Values interface {
	// ValueType returns the element type.
	ValueType() ValueType

	// ElementCount returns the number of addressable entries.
	ElementCount() int64

	// HasValue reports whether entry id is present. Panics when id is out
	// of range.
	HasValue(id int64) bool

	// LongValue returns entry id as an int64.
	LongValue(id int64) (int64, error)

	// DoubleValue returns entry id as a float64.
	DoubleValue(id int64) (float64, error)

	// LongArrayValue returns entry id as an int64 slice.
	LongArrayValue(id int64) ([]int64, error)

	// DoubleArrayValue returns entry id as a float64 slice.
	DoubleArrayValue(id int64) ([]float64, error)

	// FloatArrayValue returns entry id as a float32 slice.
	FloatArrayValue(id int64) ([]float32, error)

	// DefaultValue returns the value absent entries read as.
	DefaultValue() any

	// Dimension returns 1 for scalars, the common length of present entries
	// for arrays, or RaggedDimension.
	Dimension() int

	// Subset returns a column whose entry i is this column's entry ids[i].
	Subset(ids []int64) Values
}

// unsupported answers every typed accessor with ErrUnsupportedType.
// Concrete columns embed it and override what they support.
type unsupported struct {
	valueType ValueType
}

func (u unsupported) ValueType() ValueType { return u.valueType }

func (u unsupported) LongValue(int64) (int64, error) {
	return 0, fmt.Errorf("%w: %s column read as LONG", ErrUnsupportedType, u.valueType)
}

func (u unsupported) DoubleValue(int64) (float64, error) {
	return 0, fmt.Errorf("%w: %s column read as DOUBLE", ErrUnsupportedType, u.valueType)
}

func (u unsupported) LongArrayValue(int64) ([]int64, error) {
	return nil, fmt.Errorf("%w: %s column read as LONG_ARRAY", ErrUnsupportedType, u.valueType)
}

func (u unsupported) DoubleArrayValue(int64) ([]float64, error) {
	return nil, fmt.Errorf("%w: %s column read as DOUBLE_ARRAY", ErrUnsupportedType, u.valueType)
}

func (u unsupported) FloatArrayValue(int64) ([]float32, error) {
	return nil, fmt.Errorf("%w: %s column read as FLOAT_ARRAY", ErrUnsupportedType, u.valueType)
}

// ==============================================================================
// Column
// ==============================================================================

// Option configures a column at construction.
type Option[T any] func(*column[T])

// WithDefault sets the value absent entries read as.
func WithDefault[T any](v T) Option[T] {
	return func(c *column[T]) {
		c.fallback = v
	}
}

// WithPresence sets the presence mask. present[i] false marks entry i
// absent. A nil mask means every entry is present. Panics when the mask
// length differs from the value count.
func WithPresence[T any](present []bool) Option[T] {
	return func(c *column[T]) {
		if present != nil && len(present) != len(c.values) {
			violate("presence mask length %d for %d values", len(present), len(c.values))
		}
		c.present = present
	}
}

// column is the shared storage behind every concrete column type.
type column[T any] struct {
	values   []T
	present  []bool
	fallback T
}

func newColumn[T any](values []T, fallback T, opts []Option[T]) column[T] {
	c := column[T]{values: values, fallback: fallback}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *column[T]) ElementCount() int64 {
	return int64(len(c.values))
}

func (c *column[T]) check(id int64) {
	if id < 0 || id >= int64(len(c.values)) {
		violate("id %d out of range [0, %d)", id, len(c.values))
	}
}

func (c *column[T]) HasValue(id int64) bool {
	c.check(id)
	return c.present == nil || c.present[id]
}

func (c *column[T]) DefaultValue() any {
	return c.fallback
}

func (c *column[T]) get(id int64) T {
	if !c.HasValue(id) {
		return c.fallback
	}
	return c.values[id]
}

func (c *column[T]) subset(ids []int64) column[T] {
	out := column[T]{values: make([]T, len(ids)), fallback: c.fallback}
	if c.present != nil {
		out.present = make([]bool, len(ids))
	}
	for i, id := range ids {
		c.check(id)
		out.values[i] = c.values[id]
		if c.present != nil {
			out.present[i] = c.present[id]
		}
	}
	return out
}
