// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import "sort"

// A Partitioner deterministically assigns keys to partition indices.
// Assign must be a pure function of the key and the configured
// partition count: equal keys map to the same index across calls and
// across nodes sharing an equal partitioner. That identity is what
// allows a join over co-partitioned operands to skip its shuffle.
type Partitioner interface {
	// NumPartitions returns the partitioner's partition count.
	NumPartitions() int
	// Assign returns the partition index for key, in [0,
	// NumPartitions()).
	Assign(key interface{}) int
	// Equal reports whether other places every key identically to
	// this partitioner.
	Equal(other Partitioner) bool
}

func partitionersEqual(a, b Partitioner) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Equal(b)
}

// A HashPartitioner assigns each key to stableHash(key) mod N. Two
// hash partitioners with the same partition count are equal regardless
// of instance identity.
type HashPartitioner struct {
	n int
}

// NewHashPartitioner returns a hash partitioner over numPartitions
// partitions.
func NewHashPartitioner(numPartitions int) *HashPartitioner {
	if numPartitions < 1 {
		graphPanicf(OpPartitionBy, "hash partitioner needs >= 1 partitions; got %d", numPartitions)
	}
	return &HashPartitioner{n: numPartitions}
}

func (h *HashPartitioner) NumPartitions() int { return h.n }

func (h *HashPartitioner) Assign(key interface{}) int {
	return int(stableHash32(key) % uint32(h.n))
}

func (h *HashPartitioner) Equal(other Partitioner) bool {
	o, ok := other.(*HashPartitioner)
	return ok && o.n == h.n
}

// An IdentityPartitioner interprets integer keys directly as partition
// indices, wrapping modulo the partition count. Negative keys are
// offset into range.
type IdentityPartitioner struct {
	n int
}

// NewIdentityPartitioner returns an identity partitioner over
// numPartitions partitions.
func NewIdentityPartitioner(numPartitions int) *IdentityPartitioner {
	if numPartitions < 1 {
		graphPanicf(OpPartitionBy, "identity partitioner needs >= 1 partitions; got %d", numPartitions)
	}
	return &IdentityPartitioner{n: numPartitions}
}

func (p *IdentityPartitioner) NumPartitions() int { return p.n }

func (p *IdentityPartitioner) Assign(key interface{}) int {
	var i int
	switch k := key.(type) {
	case int:
		i = k
	case int32:
		i = int(k)
	case int64:
		i = int(k)
	default:
		graphPanicf(OpPartitionBy, "identity partitioner requires integer keys; got %T", key)
	}
	i %= p.n
	if i < 0 {
		i += p.n
	}
	return i
}

func (p *IdentityPartitioner) Equal(other Partitioner) bool {
	o, ok := other.(*IdentityPartitioner)
	return ok && o.n == p.n
}

// A RangePartitioner assigns keys to contiguous, sorted,
// non-overlapping ranges delimited by bounds drawn from a sample of
// the key distribution. Because bounds are sample quantiles, dense key
// ranges receive proportionally more partitions than sparse ones, so
// skewed distributions still spread across the full partition count.
//
// Range partitioners are equal only to themselves: their placement
// depends on the sampled bounds.
type RangePartitioner struct {
	less   LessFunc
	bounds []interface{}
}

// NewRangePartitioner returns a range partitioner with at most
// numPartitions partitions, with bounds computed from the provided
// sample under the order less. Duplicate quantile bounds are
// collapsed, so the effective partition count may be smaller than
// requested when the sample has few distinct keys.
func NewRangePartitioner(numPartitions int, less LessFunc, sample []interface{}) *RangePartitioner {
	if numPartitions < 1 {
		graphPanicf(OpSortBy, "range partitioner needs >= 1 partitions; got %d", numPartitions)
	}
	if less == nil {
		graphPanicf(OpSortBy, "nil less function")
	}
	sorted := make([]interface{}, len(sample))
	copy(sorted, sample)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	var bounds []interface{}
	for i := 1; i < numPartitions && len(sorted) > 0; i++ {
		b := sorted[i*len(sorted)/numPartitions]
		// Collapse duplicate bounds; they would produce empty ranges.
		if len(bounds) > 0 && !less(bounds[len(bounds)-1], b) {
			continue
		}
		bounds = append(bounds, b)
	}
	return &RangePartitioner{less: less, bounds: bounds}
}

func (r *RangePartitioner) NumPartitions() int { return len(r.bounds) + 1 }

func (r *RangePartitioner) Assign(key interface{}) int {
	// First bound greater than key; keys equal to a bound belong to
	// the partition above it.
	return sort.Search(len(r.bounds), func(i int) bool { return r.less(key, r.bounds[i]) })
}

func (r *RangePartitioner) Equal(other Partitioner) bool {
	o, ok := other.(*RangePartitioner)
	return ok && o == r
}
