// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package properties

// ==============================================================================
// Scalars
// ==============================================================================

// LongValues is a column of int64 scalars. It also reads as DOUBLE.
type LongValues struct {
	unsupported
	column[int64]
}

// NewLongValues wraps values. The slice is retained. The default is
// DefaultLong unless overridden.
func NewLongValues(values []int64, opts ...Option[int64]) *LongValues {
	return &LongValues{
		unsupported: unsupported{valueType: Long},
		column:      newColumn(values, DefaultLong, opts),
	}
}

func (v *LongValues) LongValue(id int64) (int64, error) {
	return v.get(id), nil
}

// DoubleValue widens entry id. An absent entry reads as the column
// default, and the DefaultLong sentinel reads as NaN.
func (v *LongValues) DoubleValue(id int64) (float64, error) {
	if !v.HasValue(id) {
		if v.fallback == DefaultLong {
			return DefaultDouble(), nil
		}
		return float64(v.fallback), nil
	}
	return float64(v.values[id]), nil
}

func (v *LongValues) Dimension() int { return 1 }

func (v *LongValues) Subset(ids []int64) Values {
	return &LongValues{unsupported: v.unsupported, column: v.subset(ids)}
}

// DoubleValues is a column of float64 scalars.
type DoubleValues struct {
	unsupported
	column[float64]
}

// NewDoubleValues wraps values. The slice is retained. The default is NaN
// unless overridden.
func NewDoubleValues(values []float64, opts ...Option[float64]) *DoubleValues {
	return &DoubleValues{
		unsupported: unsupported{valueType: Double},
		column:      newColumn(values, DefaultDouble(), opts),
	}
}

func (v *DoubleValues) DoubleValue(id int64) (float64, error) {
	return v.get(id), nil
}

func (v *DoubleValues) Dimension() int { return 1 }

func (v *DoubleValues) Subset(ids []int64) Values {
	return &DoubleValues{unsupported: v.unsupported, column: v.subset(ids)}
}

// ==============================================================================
// Arrays
// ==============================================================================

// LongArrayValues is a column of int64 arrays.
type LongArrayValues struct {
	unsupported
	column[[]int64]
	dimension int
}

// NewLongArrayValues wraps values. The slices are retained.
func NewLongArrayValues(values [][]int64, opts ...Option[[]int64]) *LongArrayValues {
	v := &LongArrayValues{
		unsupported: unsupported{valueType: LongArray},
		column:      newColumn[[]int64](values, nil, opts),
	}
	v.dimension = commonDimension(&v.column)
	return v
}

func (v *LongArrayValues) LongArrayValue(id int64) ([]int64, error) {
	return v.get(id), nil
}

func (v *LongArrayValues) Dimension() int { return v.dimension }

func (v *LongArrayValues) Subset(ids []int64) Values {
	out := &LongArrayValues{unsupported: v.unsupported, column: v.subset(ids)}
	out.dimension = commonDimension(&out.column)
	return out
}

// DoubleArrayValues is a column of float64 arrays.
type DoubleArrayValues struct {
	unsupported
	column[[]float64]
	dimension int
}

// NewDoubleArrayValues wraps values. The slices are retained.
func NewDoubleArrayValues(values [][]float64, opts ...Option[[]float64]) *DoubleArrayValues {
	v := &DoubleArrayValues{
		unsupported: unsupported{valueType: DoubleArray},
		column:      newColumn[[]float64](values, nil, opts),
	}
	v.dimension = commonDimension(&v.column)
	return v
}

func (v *DoubleArrayValues) DoubleArrayValue(id int64) ([]float64, error) {
	return v.get(id), nil
}

func (v *DoubleArrayValues) Dimension() int { return v.dimension }

func (v *DoubleArrayValues) Subset(ids []int64) Values {
	out := &DoubleArrayValues{unsupported: v.unsupported, column: v.subset(ids)}
	out.dimension = commonDimension(&out.column)
	return out
}

// FloatArrayValues is a column of float32 arrays. It also reads as
// DOUBLE_ARRAY, widening each element.
type FloatArrayValues struct {
	unsupported
	column[[]float32]
	dimension int
}

// NewFloatArrayValues wraps values. The slices are retained.
func NewFloatArrayValues(values [][]float32, opts ...Option[[]float32]) *FloatArrayValues {
	v := &FloatArrayValues{
		unsupported: unsupported{valueType: FloatArray},
		column:      newColumn[[]float32](values, nil, opts),
	}
	v.dimension = commonDimension(&v.column)
	return v
}

func (v *FloatArrayValues) FloatArrayValue(id int64) ([]float32, error) {
	return v.get(id), nil
}

func (v *FloatArrayValues) DoubleArrayValue(id int64) ([]float64, error) {
	src := v.get(id)
	if src == nil {
		return nil, nil
	}
	out := make([]float64, len(src))
	for i, f := range src {
		out[i] = float64(f)
	}
	return out, nil
}

func (v *FloatArrayValues) Dimension() int { return v.dimension }

func (v *FloatArrayValues) Subset(ids []int64) Values {
	out := &FloatArrayValues{unsupported: v.unsupported, column: v.subset(ids)}
	out.dimension = commonDimension(&out.column)
	return out
}

// commonDimension returns the shared length of present entries, 0 when
// nothing is present, or RaggedDimension.
func commonDimension[E any](c *column[[]E]) int {
	dim := -2
	for id, arr := range c.values {
		if c.present != nil && !c.present[id] {
			continue
		}
		switch {
		case dim == -2:
			dim = len(arr)
		case dim != len(arr):
			return RaggedDimension
		}
	}
	if dim == -2 {
		return 0
	}
	return dim
}
