// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import "context"

// User function types. Transformations are lazy: none of these
// functions is invoked at graph-construction time; they run inside
// tasks when an action triggers execution. Functions must be
// deterministic for lineage-based recomputation to be a correctness
// no-op.
type (
	// MapFunc transforms one record into one record.
	MapFunc func(interface{}) interface{}
	// FilterFunc reports whether a record is kept.
	FilterFunc func(interface{}) bool
	// FlatMapFunc transforms one record into zero or more records.
	FlatMapFunc func(interface{}) []interface{}
	// MapPartitionsFunc transforms a whole partition at once. The
	// context carries the running task's accumulator scope.
	MapPartitionsFunc func(ctx context.Context, partition int, records []interface{}) []interface{}
	// KeyFunc extracts a key from a record.
	KeyFunc func(interface{}) interface{}
	// ReduceFunc combines two values into one. Reduce functions must
	// be associative, and commutative where partition execution order
	// can vary.
	ReduceFunc func(x, y interface{}) interface{}
	// LessFunc orders two keys.
	LessFunc func(x, y interface{}) bool
	// ForeachFunc is applied to each record for its side effects. The
	// context carries the running task's accumulator scope.
	ForeachFunc func(ctx context.Context, record interface{})
)

// Parallelize creates a source dataset from an in-memory collection,
// split into numPartitions contiguous, order-preserving partitions.
func (g *Graph) Parallelize(records []interface{}, numPartitions int) Dataset {
	if numPartitions < 1 {
		graphPanicf(OpSource, "number of partitions must be >= 1; got %d", numPartitions)
	}
	// Contiguous split: the last partitions may run one record short
	// when the input does not divide evenly.
	data := make([][]interface{}, numPartitions)
	q, r := len(records)/numPartitions, len(records)%numPartitions
	off := 0
	for i := range data {
		n := q
		if i < r {
			n++
		}
		data[i] = records[off : off+n]
		off += n
	}
	return g.add(&node{op: OpSource, nparts: numPartitions, data: data})
}

// ReadSource creates a source dataset whose partitions are supplied by
// an external reader.
func (g *Graph) ReadSource(r SourceReader, numPartitions int) Dataset {
	if numPartitions < 1 {
		graphPanicf(OpSource, "number of partitions must be >= 1; got %d", numPartitions)
	}
	if r == nil {
		graphPanicf(OpSource, "nil source reader")
	}
	return g.add(&node{op: OpSource, nparts: numPartitions, source: r})
}

// Map returns a dataset whose records are fn applied to each record of
// d. Map preserves partitioning count but not the partitioner.
func (d Dataset) Map(fn MapFunc) Dataset {
	if fn == nil {
		graphPanicf(OpMap, "nil map function")
	}
	return d.g.add(&node{op: OpMap, parents: []NodeID{d.id}, nparts: d.NumPartitions(), mapFn: fn})
}

// Filter returns a dataset containing the records of d for which pred
// is true.
func (d Dataset) Filter(pred FilterFunc) Dataset {
	if pred == nil {
		graphPanicf(OpFilter, "nil predicate")
	}
	n := d.g.node(d.id)
	return d.g.add(&node{op: OpFilter, parents: []NodeID{d.id}, nparts: n.nparts, part: n.part, filterFn: pred})
}

// FlatMap returns a dataset whose records are the concatenation of fn
// applied to each record of d.
func (d Dataset) FlatMap(fn FlatMapFunc) Dataset {
	if fn == nil {
		graphPanicf(OpFlatMap, "nil flatmap function")
	}
	return d.g.add(&node{op: OpFlatMap, parents: []NodeID{d.id}, nparts: d.NumPartitions(), flatMapFn: fn})
}

// MapPartitions returns a dataset computed by applying fn to each whole
// partition of d.
func (d Dataset) MapPartitions(fn MapPartitionsFunc) Dataset {
	if fn == nil {
		graphPanicf(OpMapPartitions, "nil partition function")
	}
	return d.g.add(&node{op: OpMapPartitions, parents: []NodeID{d.id}, nparts: d.NumPartitions(), mapPartFn: fn})
}

// Union returns a dataset containing the records of d followed by the
// records of others. The result has the sum of the operands' partition
// counts; no data movement occurs.
func (d Dataset) Union(others ...Dataset) Dataset {
	parents := []NodeID{d.id}
	nparts := d.NumPartitions()
	for _, o := range others {
		if o.g != d.g {
			graphPanicf(OpUnion, "operands belong to different graphs")
		}
		parents = append(parents, o.id)
		nparts += o.NumPartitions()
	}
	return d.g.add(&node{op: OpUnion, parents: parents, nparts: nparts})
}

// Distinct returns a dataset containing each distinct record of d
// exactly once. Records must be comparable. Distinct shuffles records
// so equal records meet in one partition.
func (d Dataset) Distinct() Dataset {
	return d.g.add(&node{op: OpDistinct, parents: []NodeID{d.id}, nparts: d.NumPartitions()})
}

// SortBy returns a dataset globally sorted by the key extracted with
// keyFn under the order less. Records are range-partitioned by a
// sample of the key distribution, then sorted within each partition,
// so concatenating partitions in index order yields a total order.
// The sort is stable: equal keys preserve their first-encountered
// relative order.
func (d Dataset) SortBy(keyFn KeyFunc, less LessFunc, numPartitions int) Dataset {
	if keyFn == nil || less == nil {
		graphPanicf(OpSortBy, "nil key or less function")
	}
	if numPartitions < 1 {
		numPartitions = d.NumPartitions()
	}
	return d.g.add(&node{op: OpSortBy, parents: []NodeID{d.id}, nparts: numPartitions, keyFn: keyFn, lessFn: less})
}

// KeyBy returns a dataset of Pairs keying each record of d by
// keyFn(record).
func (d Dataset) KeyBy(keyFn KeyFunc) Dataset {
	if keyFn == nil {
		graphPanicf(OpKeyBy, "nil key function")
	}
	return d.g.add(&node{op: OpKeyBy, parents: []NodeID{d.id}, nparts: d.NumPartitions(), keyFn: keyFn})
}

// MapValues transforms the value of each Pair record of d, preserving
// keys and partitioning.
func (d Dataset) MapValues(fn MapFunc) Dataset {
	if fn == nil {
		graphPanicf(OpMapValues, "nil map function")
	}
	n := d.g.node(d.id)
	return d.g.add(&node{op: OpMapValues, parents: []NodeID{d.id}, nparts: n.nparts, part: n.part, mapFn: fn})
}

// FlatMapValues expands the value of each Pair record of d into zero
// or more values, preserving keys and partitioning.
func (d Dataset) FlatMapValues(fn FlatMapFunc) Dataset {
	if fn == nil {
		graphPanicf(OpFlatMapValues, "nil flatmap function")
	}
	n := d.g.node(d.id)
	return d.g.add(&node{op: OpFlatMapValues, parents: []NodeID{d.id}, nparts: n.nparts, part: n.part, flatMapFn: fn})
}

// PartitionBy returns a dataset of d's Pair records partitioned by p.
// If d is already partitioned by an equal partitioner, no shuffle
// occurs.
func (d Dataset) PartitionBy(p Partitioner) Dataset {
	if p == nil {
		graphPanicf(OpPartitionBy, "nil partitioner")
	}
	return d.g.add(&node{op: OpPartitionBy, parents: []NodeID{d.id}, nparts: p.NumPartitions(), part: p})
}

// Coalesce returns a dataset with numPartitions <= NumPartitions()
// formed by merging whole source partitions; it avoids a shuffle.
// To increase the partition count, use Repartition.
func (d Dataset) Coalesce(numPartitions int) Dataset {
	np := d.NumPartitions()
	if numPartitions < 1 || numPartitions > np {
		graphPanicf(OpCoalesce, "partition count must be in [1,%d]; got %d", np, numPartitions)
	}
	// Assign contiguous runs of source partitions to each target, so
	// record order within merged partitions follows source order.
	groups := make([][]int, numPartitions)
	q, r := np/numPartitions, np%numPartitions
	src := 0
	for i := range groups {
		n := q
		if i < r {
			n++
		}
		for j := 0; j < n; j++ {
			groups[i] = append(groups[i], src)
			src++
		}
	}
	return d.g.add(&node{op: OpCoalesce, parents: []NodeID{d.id}, nparts: numPartitions, groups: groups})
}

// Repartition returns a dataset with exactly numPartitions partitions,
// redistributing records by a hash of the whole record. The multiset
// of records is preserved; ordering is not.
func (d Dataset) Repartition(numPartitions int) Dataset {
	if numPartitions < 1 {
		graphPanicf(OpRepartition, "number of partitions must be >= 1; got %d", numPartitions)
	}
	return d.g.add(&node{op: OpRepartition, parents: []NodeID{d.id}, nparts: numPartitions})
}
