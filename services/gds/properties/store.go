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
	"maps"
	"slices"
)

// Property is a named column plus the labels it was declared for.
type Property struct {
	Key    string
	Values Values

	// Labels scopes a node property. Empty means every label.
	Labels []string
}

// Store is an immutable map of properties for one scope.
//
// Description:
//
//	With and Without return a new Store sharing the untouched columns, so
//	holders of the old Store keep seeing a consistent snapshot.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	props map[string]Property
}

// EmptyStore returns a store with no properties.
func EmptyStore() *Store {
	return &Store{props: map[string]Property{}}
}

// Get returns the property under key.
func (s *Store) Get(key string) (Property, bool) {
	p, ok := s.props[key]
	return p, ok
}

// Values returns the column under key.
func (s *Store) Values(key string) (Values, bool) {
	p, ok := s.props[key]
	if !ok {
		return nil, false
	}
	return p.Values, true
}

// Keys returns the property keys, sorted.
func (s *Store) Keys() []string {
	return slices.Sorted(maps.Keys(s.props))
}

// Len returns the number of properties.
func (s *Store) Len() int {
	return len(s.props)
}

// With returns a copy of the store with p added or replaced.
func (s *Store) With(p Property) *Store {
	next := make(map[string]Property, len(s.props)+1)
	maps.Copy(next, s.props)
	next[p.Key] = p
	return &Store{props: next}
}

// Without returns a copy of the store with key removed.
func (s *Store) Without(key string) *Store {
	next := maps.Clone(s.props)
	delete(next, key)
	return &Store{props: next}
}

// Subset applies Values.Subset(ids) to every column.
func (s *Store) Subset(ids []int64) *Store {
	next := make(map[string]Property, len(s.props))
	for key, p := range s.props {
		p.Values = p.Values.Subset(ids)
		next[key] = p
	}
	return &Store{props: next}
}
