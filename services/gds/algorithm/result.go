// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithm

import "github.com/AleutianAI/AleutianGDS/services/gds/properties"

// Result is implemented by every algorithm result.
type Result interface {
	// Summary returns scalar statistics of the run.
	Summary() map[string]any
}

// NodeResult is a Result that assigns one value per node, indexed by
// internal id. It can be written back to the store as a node property.
type NodeResult interface {
	Result

	// NodeValues returns the per-node column.
	NodeValues() properties.Values
}

// BuildDescriber is implemented by storages whose build phase is not an
// adjacency snapshot.
type BuildDescriber interface {
	BuildDescription() string
}

func buildDescription(alg any) string {
	if d, ok := alg.(BuildDescriber); ok {
		return d.BuildDescription()
	}
	return "Build adjacency"
}
