// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package topology

import (
	"fmt"
	"strings"
)

// Orientation selects the traversal direction over a relationship type.
type Orientation int

const (
	// Natural traverses relationships as stored, source to target.
	Natural Orientation = iota

	// Reverse traverses relationships target to source.
	Reverse

	// Undirected traverses both directions.
	Undirected
)

// String returns the canonical name of the orientation.
func (o Orientation) String() string {
	switch o {
	case Natural:
		return "NATURAL"
	case Reverse:
		return "REVERSE"
	case Undirected:
		return "UNDIRECTED"
	default:
		return fmt.Sprintf("Orientation(%d)", int(o))
	}
}

// NeedsInverse reports whether traversals in this orientation read the
// incoming adjacency.
func (o Orientation) NeedsInverse() bool {
	return o == Reverse || o == Undirected
}

// ParseOrientation parses an orientation name, case-insensitively.
// An empty string parses as Natural.
func ParseOrientation(s string) (Orientation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NATURAL":
		return Natural, nil
	case "REVERSE":
		return Reverse, nil
	case "UNDIRECTED":
		return Undirected, nil
	default:
		return Natural, fmt.Errorf("%w: %q", ErrInvalidOrientation, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Orientation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Orientation) UnmarshalText(text []byte) error {
	parsed, err := ParseOrientation(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}
