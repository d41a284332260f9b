// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concurrency

// DefaultMinBatchSize is the smallest range partition ParallelFor creates.
const DefaultMinBatchSize int64 = 1000

// batchesPerWorker over-partitions ranges so fast workers can take extra
// batches from slow ones.
const batchesPerWorker = 4

// Partition is a contiguous id range [Start, Start+Length).
type Partition struct {
	Start  int64
	Length int64
}

// End returns the exclusive upper bound.
func (p Partition) End() int64 {
	return p.Start + p.Length
}

// RangePartitions cuts [0, count) into contiguous partitions of roughly
// equal length.
//
// Inputs:
//
//	count - Number of ids.
//	concurrency - Worker count the partitions are sized for.
//	minBatchSize - Lower bound on partition length, except the last.
//
// Outputs:
//
//	[]Partition - Disjoint partitions covering the range, in order. Empty
//	  when count is 0.
func RangePartitions(count int64, concurrency int, minBatchSize int64) []Partition {
	if count <= 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if minBatchSize < 1 {
		minBatchSize = 1
	}
	batch := max(ceilDiv(count, int64(concurrency*batchesPerWorker)), minBatchSize)

	parts := make([]Partition, 0, ceilDiv(count, batch))
	for start := int64(0); start < count; start += batch {
		parts = append(parts, Partition{Start: start, Length: min(batch, count-start)})
	}
	return parts
}

// DegreePartitions cuts [0, count) into contiguous partitions of roughly
// equal total degree, so high-degree nodes do not pile up in one unit.
//
// Inputs:
//
//	count - Number of nodes.
//	degree - Degree of a node.
//	concurrency - Worker count the partitions are sized for.
//
// Outputs:
//
//	[]Partition - Disjoint partitions covering the range, in order.
func DegreePartitions(count int64, degree func(node int64) int64, concurrency int) []Partition {
	if count <= 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var total int64
	for node := int64(0); node < count; node++ {
		total += degree(node)
	}
	// Each node counts at least one unit so isolated nodes still spread.
	target := max(ceilDiv(total+count, int64(concurrency*batchesPerWorker)), 1)

	var parts []Partition
	start, acc := int64(0), int64(0)
	for node := int64(0); node < count; node++ {
		acc += degree(node) + 1
		if acc >= target {
			parts = append(parts, Partition{Start: start, Length: node - start + 1})
			start, acc = node+1, 0
		}
	}
	if start < count {
		parts = append(parts, Partition{Start: start, Length: count - start})
	}
	return parts
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
