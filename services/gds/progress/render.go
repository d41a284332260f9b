// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"fmt"
	"strings"
)

// Render draws a snapshot tree as indented text, one task per line:
//
//	PageRank 50% [RUNNING]
//	|-- Build adjacency 100% [FINISHED]
//	|-- Compute 0% [RUNNING]
func Render(s Snapshot) string {
	var b strings.Builder
	render(&b, s, "")
	return b.String()
}

func render(b *strings.Builder, s Snapshot, indent string) {
	b.WriteString(s.Description)
	b.WriteByte(' ')
	if s.RelativeProgress == UnknownRelativeProgress {
		b.WriteString("n/a")
	} else {
		fmt.Fprintf(b, "%d%%", int(s.RelativeProgress*100))
	}
	fmt.Fprintf(b, " [%s]", s.Status)
	if s.Error != "" {
		fmt.Fprintf(b, " error=%q", s.Error)
	}
	b.WriteByte('\n')
	for _, c := range s.Children {
		b.WriteString(indent)
		b.WriteString("|-- ")
		render(b, c, indent+"    ")
	}
}
