// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package idmap maps sparse original node identifiers onto the dense
// internal index space [0, nodeCount) used by every array-backed structure
// in the engine.
//
// # Thread Safety
//
// An IDMap is immutable after construction and safe for concurrent reads.
// It is never mutated in place; induction produces a new map.
package idmap

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// ErrUnknownOriginalID is returned when a selection references an original
// id that the map does not contain.
var ErrUnknownOriginalID = errors.New("unknown original node id")

// IDMap is a bidirectional mapping between original and internal node ids.
//
// Description:
//
//	Internal ids are assigned in input order, first occurrence wins.
//	originals[i] is the original id of internal node i.
type IDMap struct {
	originals []int64
	index     map[int64]int64
}

// FromOriginalIDs builds a map from an ordered or unordered id sequence.
//
// Description:
//
//	Duplicates are dropped; the first occurrence of an original id fixes
//	its internal id. The input slice is not retained.
//
// Inputs:
//
//	ids - Original node ids. May be empty.
//
// Outputs:
//
//	*IDMap - The immutable mapping. Never nil.
func FromOriginalIDs(ids []int64) *IDMap {
	m := &IDMap{
		originals: make([]int64, 0, len(ids)),
		index:     make(map[int64]int64, len(ids)),
	}
	for _, id := range ids {
		if _, seen := m.index[id]; seen {
			continue
		}
		m.index[id] = int64(len(m.originals))
		m.originals = append(m.originals, id)
	}
	m.originals = slices.Clip(m.originals)
	return m
}

// Identity builds a map where original id i maps to internal id i.
func Identity(nodeCount int64) *IDMap {
	ids := make([]int64, nodeCount)
	for i := range ids {
		ids[i] = int64(i)
	}
	return FromOriginalIDs(ids)
}

// ToMapped returns the internal id of an original id.
//
// Outputs:
//
//	int64 - The internal id, or -1 when absent.
//	bool - False when the original id is unknown. Unknown ids are not an error.
func (m *IDMap) ToMapped(original int64) (int64, bool) {
	mapped, ok := m.index[original]
	if !ok {
		return -1, false
	}
	return mapped, true
}

// ToOriginal returns the original id of an internal id.
//
// Internal ids only come from the map itself or from range iteration, so an
// out-of-range id is a defect in the caller and panics.
func (m *IDMap) ToOriginal(mapped int64) int64 {
	if mapped < 0 || mapped >= int64(len(m.originals)) {
		panic(fmt.Sprintf("idmap: internal id %d out of range [0, %d)", mapped, len(m.originals)))
	}
	return m.originals[mapped]
}

// Contains reports whether the original id is mapped.
func (m *IDMap) Contains(original int64) bool {
	_, ok := m.index[original]
	return ok
}

// NodeCount returns the number of mapped nodes.
func (m *IDMap) NodeCount() int64 {
	return int64(len(m.originals))
}

// HighestOriginalID returns the largest original id, or -1 for an empty map.
func (m *IDMap) HighestOriginalID() int64 {
	if len(m.originals) == 0 {
		return -1
	}
	return slices.Max(m.originals)
}

// All iterates (internal, original) pairs in internal id order.
func (m *IDMap) All() iter.Seq2[int64, int64] {
	return func(yield func(int64, int64) bool) {
		for i, original := range m.originals {
			if !yield(int64(i), original) {
				return
			}
		}
	}
}

// Induce restricts the map to a selection of original ids.
//
// Description:
//
//	The selection is deduplicated and the surviving nodes keep their
//	relative internal order, so new ids follow old internal ids rather than
//	the order of the selection.
//
// Inputs:
//
//	selected - Original ids to keep.
//
// Outputs:
//
//	*IDMap - The restricted map.
//	[]int64 - Old internal id to new internal id, -1 for dropped nodes.
//	error - ErrUnknownOriginalID when the selection names an unmapped id.
func (m *IDMap) Induce(selected []int64) (*IDMap, []int64, error) {
	keep := make([]bool, len(m.originals))
	for _, original := range selected {
		mapped, ok := m.index[original]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %d", ErrUnknownOriginalID, original)
		}
		keep[mapped] = true
	}

	oldToNew := make([]int64, len(m.originals))
	kept := make([]int64, 0, len(selected))
	for oldID, original := range m.originals {
		if !keep[oldID] {
			oldToNew[oldID] = -1
			continue
		}
		oldToNew[oldID] = int64(len(kept))
		kept = append(kept, original)
	}
	return FromOriginalIDs(kept), oldToNew, nil
}
