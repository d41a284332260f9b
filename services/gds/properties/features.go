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

import (
	"fmt"
	"math"
)

// DoubleArrayOfDimension reads entry id as a float64 array and checks its
// length against a declared dimension.
//
// Description:
//
//	Downstream feature code assumes fixed width, so a length mismatch is an
//	invariant violation and panics. Absent entries are not checked and read
//	as nil.
//
// Outputs:
//
//	[]float64 - The entry.
//	error - ErrUnsupportedType when the column cannot read as DOUBLE_ARRAY.
func DoubleArrayOfDimension(v Values, id int64, dimension int) ([]float64, error) {
	arr, err := v.DoubleArrayValue(id)
	if err != nil {
		return nil, err
	}
	if v.HasValue(id) && len(arr) != dimension {
		violate("entry %d has %d elements, expected dimension %d", id, len(arr), dimension)
	}
	return arr, nil
}

// LongArrayOfDimension is the LONG_ARRAY counterpart of
// DoubleArrayOfDimension.
func LongArrayOfDimension(v Values, id int64, dimension int) ([]int64, error) {
	arr, err := v.LongArrayValue(id)
	if err != nil {
		return nil, err
	}
	if v.HasValue(id) && len(arr) != dimension {
		violate("entry %d has %d elements, expected dimension %d", id, len(arr), dimension)
	}
	return arr, nil
}

// FeatureExtractor flattens several node property columns into one
// fixed-width float64 vector per node.
//
// Description:
//
//	Scalar columns contribute one feature, array columns their dimension.
//	Extraction is strict: NaN values and ragged arrays panic. Use raw
//	accessors when NaN must be tolerated.
//
// Thread Safety:
//
//	Safe for concurrent use once constructed.
type FeatureExtractor struct {
	keys       []string
	columns    []Values
	dimensions []int
	width      int
}

// NewFeatureExtractor validates the columns and computes the feature width.
//
// Outputs:
//
//	*FeatureExtractor - The extractor.
//	error - ErrUnsupportedType for LONG_ARRAY columns, or an error naming a
//	  ragged column. Raggedness found here is reported, not panicked, since
//	  nothing has been read yet.
func NewFeatureExtractor(keys []string, columns []Values) (*FeatureExtractor, error) {
	if len(keys) != len(columns) {
		return nil, fmt.Errorf("feature extractor: %d keys for %d columns", len(keys), len(columns))
	}
	fe := &FeatureExtractor{keys: keys, columns: columns, dimensions: make([]int, len(columns))}
	for i, col := range columns {
		switch col.ValueType() {
		case Long, Double:
			fe.dimensions[i] = 1
		case DoubleArray, FloatArray:
			dim := col.Dimension()
			if dim == RaggedDimension {
				return nil, fmt.Errorf("feature extractor: property %q has arrays of differing length", keys[i])
			}
			fe.dimensions[i] = dim
		default:
			return nil, fmt.Errorf("%w: property %q is %s", ErrUnsupportedType, keys[i], col.ValueType())
		}
		fe.width += fe.dimensions[i]
	}
	return fe, nil
}

// Width returns the number of features per node.
func (fe *FeatureExtractor) Width() int {
	return fe.width
}

// Extract writes the feature vector of node into dst, reusing its backing
// array when large enough.
func (fe *FeatureExtractor) Extract(node int64, dst []float64) []float64 {
	if cap(dst) < fe.width {
		dst = make([]float64, fe.width)
	}
	dst = dst[:fe.width]

	offset := 0
	for i, col := range fe.columns {
		switch col.ValueType() {
		case Long, Double:
			v, err := col.DoubleValue(node)
			if err != nil {
				panic(err)
			}
			dst[offset] = v
		default:
			arr, err := DoubleArrayOfDimension(col, node, fe.dimensions[i])
			if err != nil {
				panic(err)
			}
			if arr == nil {
				violate("property %q missing for node %d", fe.keys[i], node)
			}
			copy(dst[offset:], arr)
		}
		for j := offset; j < offset+fe.dimensions[i]; j++ {
			if math.IsNaN(dst[j]) {
				violate("property %q of node %d contains NaN", fe.keys[i], node)
			}
		}
		offset += fe.dimensions[i]
	}
	return dst
}
