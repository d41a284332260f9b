// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the in-memory property graph store and the
// orientation-aware views algorithms read it through.
//
// # Ownership Model
//
// A Store holds an immutable snapshot of its state behind an atomic
// pointer. Mutations build a new snapshot that shares every untouched
// column and topology with the old one, then publish it with a single
// pointer swap. Views capture the snapshot current at construction, so a
// running algorithm never observes a half-applied mutation.
//
// # Thread Safety
//
// Reads and view construction are lock-free and safe from any goroutine.
// Mutations are serialized by a writer mutex.
//
// # Views
//
// Store.Graph selects relationship types and an Orientation. It copies no
// adjacency; Reverse and Undirected views trigger the one-time synthesis of
// each selected type's incoming index.
package graph

import "errors"

// Sentinel errors for graph operations. All of them are recoverable graph
// errors: the caller asked for something that does not exist or does not
// fit.
var (
	// ErrRelationshipTypeNotFound is returned when a view or mutation
	// names a relationship type the store does not have.
	ErrRelationshipTypeNotFound = errors.New("relationship type not found")

	// ErrPropertyNotFound is returned when a requested property key does
	// not exist for the selected entities.
	ErrPropertyNotFound = errors.New("property not found")

	// ErrCardinalityMismatch is returned when a column's element count
	// does not match the entity count it would be attached to.
	ErrCardinalityMismatch = errors.New("property cardinality mismatch")

	// ErrDuplicateRelationshipType is returned when adding a relationship
	// type that already exists.
	ErrDuplicateRelationshipType = errors.New("relationship type already exists")

	// ErrLabelNotFound is returned for unknown node labels.
	ErrLabelNotFound = errors.New("node label not found")

	// ErrUnknownNodeID is returned when a selection references an original
	// node id the store does not contain.
	ErrUnknownNodeID = errors.New("unknown node id")

	// ErrInvalidFilter is returned when a node filter expression does not
	// compile or does not evaluate to a bool.
	ErrInvalidFilter = errors.New("invalid node filter")

	// ErrTopologyMismatch is returned when a topology spans a different
	// node count than the store.
	ErrTopologyMismatch = errors.New("topology node count mismatch")
)
