// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

// Key-based transformations. All of these operate on datasets of Pair
// records; applying them to non-Pair records is a task execution error.

// GroupByKey returns a dataset of Pair{K, []interface{}} grouping all
// values sharing a key. The full record set is shuffled; when the
// grouped values are immediately reduced, prefer ReduceByKey, which
// pre-combines map-side and shuffles only per-key partials.
func (d Dataset) GroupByKey() Dataset {
	np := d.NumPartitions()
	return d.g.add(&node{
		op:      OpGroupByKey,
		parents: []NodeID{d.id},
		nparts:  np,
		part:    NewHashPartitioner(np),
	})
}

// ReduceByKey returns a dataset of Pair records combining all values
// sharing a key with fn. Values are pre-combined within each source
// partition before shuffling, and combined again per destination
// partition. fn must be associative and commutative.
// numPartitions <= 0 selects the parent's partition count.
func (d Dataset) ReduceByKey(fn ReduceFunc, numPartitions int) Dataset {
	if fn == nil {
		graphPanicf(OpReduceByKey, "nil combine function")
	}
	if numPartitions <= 0 {
		numPartitions = d.NumPartitions()
	}
	return d.g.add(&node{
		op:       OpReduceByKey,
		parents:  []NodeID{d.id},
		nparts:   numPartitions,
		part:     NewHashPartitioner(numPartitions),
		reduceFn: fn,
	})
}

// Join returns a dataset of Pair{K, Joined} records containing one
// record per pairing of values for each key present in both d and
// other. If both operands already share an equal partitioner, the join
// is narrow and performs no shuffle.
func (d Dataset) Join(other Dataset) Dataset {
	return d.joinWith(OpJoin, other)
}

// LeftOuterJoin is Join, additionally emitting keys present only in d
// with Joined.HasRight unset.
func (d Dataset) LeftOuterJoin(other Dataset) Dataset {
	return d.joinWith(OpLeftOuterJoin, other)
}

// RightOuterJoin is Join, additionally emitting keys present only in
// other with Joined.HasLeft unset.
func (d Dataset) RightOuterJoin(other Dataset) Dataset {
	return d.joinWith(OpRightOuterJoin, other)
}

// Cogroup returns a dataset of Pair{K, [][]interface{}} records: for
// each key in either operand, the groups of values from d and from
// other, in that order.
func (d Dataset) Cogroup(other Dataset) Dataset {
	return d.joinWith(OpCogroup, other)
}

func (d Dataset) joinWith(op OpKind, other Dataset) Dataset {
	if other.g != d.g {
		graphPanicf(op, "operands belong to different graphs")
	}
	var (
		left  = d.Partitioner()
		right = other.Partitioner()
	)
	if left != nil && right != nil && partitionersEqual(left, right) {
		// Co-partitioned operands: each output partition joins the
		// same-indexed partition of each side, with no shuffle.
		return d.g.add(&node{
			op:      op,
			parents: []NodeID{d.id, other.id},
			nparts:  left.NumPartitions(),
			part:    left,
			aligned: true,
		})
	}
	if left != nil && right != nil && left.NumPartitions() == right.NumPartitions() {
		// Same width but different placement: a silent join would pair
		// unrelated partitions. Require an explicit repartition.
		schemaPanicf(op, "operands are partitioned by incompatible partitioners; repartition one side first")
	}
	np := d.NumPartitions()
	if o := other.NumPartitions(); o > np {
		np = o
	}
	return d.g.add(&node{
		op:      op,
		parents: []NodeID{d.id, other.id},
		nparts:  np,
		part:    NewHashPartitioner(np),
	})
}
