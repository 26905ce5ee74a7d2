// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
)

// NodeID uniquely identifies a dataset node within a graph. Identifiers
// are generated at construction time; parent links are stored as
// identifiers rather than live references, so no node can ever refer to
// a not-yet-existing descendant and the graph is acyclic by
// construction.
type NodeID string

// A Graph is an arena of immutable dataset nodes. All transformations
// on datasets of a graph allocate new nodes in the same arena; nodes
// are never mutated after construction. A Graph is safe for concurrent
// use.
type Graph struct {
	mu    sync.Mutex
	nodes map[NodeID]*node
	// policies holds the current persistence policy per node. Policies
	// are runtime state, not part of the immutable node description.
	policies map[NodeID]Policy
	// unpersist subscribers are notified when a node's cached
	// partitions must be dropped. The partition store registers here.
	unpersist []func(NodeID)
}

// NewGraph returns a new, empty dataset graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[NodeID]*node),
		policies: make(map[NodeID]Policy),
	}
}

// A node is the immutable description of one dataset: its
// transformation kind, its parents (by identifier), its partitioning,
// and the user functions that parameterize the transformation.
type node struct {
	id      NodeID
	op      OpKind
	parents []NodeID
	nparts  int
	// part is the node's output partitioner. It is non-nil only for
	// key-partitioned nodes; equality of partitioners between nodes is
	// what permits shuffle-free joins.
	part Partitioner

	mapFn     MapFunc
	filterFn  FilterFunc
	flatMapFn FlatMapFunc
	mapPartFn MapPartitionsFunc
	keyFn     KeyFunc
	reduceFn  ReduceFunc
	lessFn    LessFunc

	// data holds the pre-split partitions of an in-memory source node.
	data [][]interface{}
	// source is the external reader of a source node; exactly one of
	// data and source is set for OpSource.
	source SourceReader

	// groups maps each output partition of a coalesce node to the
	// parent partitions merged into it.
	groups [][]int
	// aligned records that a join-class node was constructed over
	// parents that share an equal partitioner, making it narrow.
	aligned bool
}

// add registers a freshly constructed node in the arena and returns a
// handle for it.
func (g *Graph) add(n *node) Dataset {
	n.id = NodeID(uuid.NewString())
	g.mu.Lock()
	g.nodes[n.id] = n
	g.mu.Unlock()
	return Dataset{g: g, id: n.id}
}

func (g *Graph) node(id NodeID) *node {
	g.mu.Lock()
	n := g.nodes[id]
	g.mu.Unlock()
	if n == nil {
		log.Panicf("rivulet: unknown node %s", id)
	}
	return n
}

// Release removes the node from the arena unless another registered
// node links to it as a parent, allowing its entry to be garbage
// collected. Release also notifies unpersist subscribers so cached
// partitions are dropped.
func (g *Graph) Release(d Dataset) {
	g.mu.Lock()
	live := make(map[NodeID]bool)
	for id, n := range g.nodes {
		if id == d.id {
			continue
		}
		live[id] = true
		for _, p := range n.parents {
			live[p] = true
		}
	}
	var dropped []NodeID
	if !live[d.id] {
		delete(g.nodes, d.id)
		delete(g.policies, d.id)
		dropped = append(dropped, d.id)
	}
	subs := g.unpersist
	g.mu.Unlock()
	for _, id := range dropped {
		for _, fn := range subs {
			fn(id)
		}
	}
}

// OnUnpersist registers fn to be invoked whenever a node's cached
// partitions must be evicted (Unpersist or Release). It is used by the
// execution layer's partition store.
func (g *Graph) OnUnpersist(fn func(NodeID)) {
	g.mu.Lock()
	g.unpersist = append(g.unpersist, fn)
	g.mu.Unlock()
}

// A Dataset is a handle on an immutable dataset node. Datasets are
// cheap values; equality of handles is identity of nodes.
type Dataset struct {
	g  *Graph
	id NodeID
}

// ID returns the dataset's node identifier.
func (d Dataset) ID() NodeID { return d.id }

// Graph returns the arena that owns this dataset.
func (d Dataset) Graph() *Graph { return d.g }

// Op returns the transformation kind of this dataset's node.
func (d Dataset) Op() OpKind { return d.g.node(d.id).op }

// NumPartitions returns the number of partitions of this dataset.
func (d Dataset) NumPartitions() int { return d.g.node(d.id).nparts }

// Partitioner returns the dataset's output partitioner, or nil if the
// dataset is not key-partitioned.
func (d Dataset) Partitioner() Partitioner { return d.g.node(d.id).part }

// Parents returns handles for the dataset's parent nodes, in
// dependency order.
func (d Dataset) Parents() []Dataset {
	n := d.g.node(d.id)
	parents := make([]Dataset, len(n.parents))
	for i, id := range n.parents {
		parents[i] = Dataset{g: d.g, id: id}
	}
	return parents
}

// A Dep describes a single parent dependency of a dataset node,
// including whether crossing it requires a shuffle and, if so, how
// records are keyed, partitioned and optionally pre-combined.
type Dep struct {
	Parent Dataset
	// Shuffle is set for wide dependencies.
	Shuffle bool
	// Key extracts the shuffle key from a record crossing this
	// dependency. It is nil for narrow dependencies.
	Key KeyFunc
	// Partitioner assigns destination partitions for shuffled records.
	// It is nil for narrow dependencies, and nil for range-partitioned
	// shuffles whose partitioner must be built from a sample at run
	// time (see Range).
	Partitioner Partitioner
	// Range is set when the shuffle must be range-partitioned using
	// Less over a sample of the parent's keys.
	Range bool
	// Less orders keys for range-partitioned shuffles.
	Less LessFunc
	// Combiner, if non-nil, pre-combines values per key within each
	// source partition before shuffling. Records crossing a combined
	// dependency are Pairs.
	Combiner ReduceFunc
}

// NumDep returns the number of parent dependencies of this dataset.
func (d Dataset) NumDep() int { return len(d.g.node(d.id).parents) }

// DepOf returns the i'th parent dependency of this dataset.
func (d Dataset) DepOf(i int) Dep {
	n := d.g.node(d.id)
	parent := Dataset{g: d.g, id: n.parents[i]}
	dep := Dep{Parent: parent}
	switch n.op {
	case OpSource:
		log.Panicf("rivulet: source has no deps")
	case OpMap, OpFilter, OpFlatMap, OpMapPartitions, OpKeyBy,
		OpMapValues, OpFlatMapValues, OpUnion, OpCoalesce:
	case OpPartitionBy:
		if !partitionersEqual(parent.Partitioner(), n.part) {
			dep.Shuffle = true
			dep.Key = pairKey
			dep.Partitioner = n.part
		}
	case OpJoin, OpLeftOuterJoin, OpRightOuterJoin, OpCogroup:
		if !n.aligned {
			dep.Shuffle = true
			dep.Key = pairKey
			dep.Partitioner = n.part
		}
	case OpGroupByKey:
		dep.Shuffle = true
		dep.Key = pairKey
		dep.Partitioner = n.part
	case OpReduceByKey:
		dep.Shuffle = true
		dep.Key = pairKey
		dep.Partitioner = n.part
		dep.Combiner = n.reduceFn
	case OpDistinct:
		dep.Shuffle = true
		dep.Key = identityKey
		dep.Partitioner = NewHashPartitioner(n.nparts)
	case OpRepartition:
		dep.Shuffle = true
		dep.Key = identityKey
		dep.Partitioner = NewHashPartitioner(n.nparts)
	case OpSortBy:
		dep.Shuffle = true
		dep.Key = KeyFunc(n.keyFn)
		dep.Range = true
		dep.Less = n.lessFn
	default:
		log.Panicf("rivulet: unhandled op %s", n.op)
	}
	return dep
}

// DependencyKind reports whether this dataset's dependencies on its
// parents are narrow or wide. Source nodes report DepNone.
func (d Dataset) DependencyKind() DepKind {
	if d.Op() == OpSource {
		return DepNone
	}
	for i := 0; i < d.NumDep(); i++ {
		if d.DepOf(i).Shuffle {
			return DepWide
		}
	}
	return DepNarrow
}

// ParentPartitions names the partitions of one parent needed to
// compute a given partition of a child.
type ParentPartitions struct {
	Parent     Dataset
	Partitions []int
}

// Lineage returns, for the given partition of d, the parent nodes and
// parent partition indices required to recompute it. It is used for
// both execution planning and fault recovery. For wide dependencies,
// all parent partitions are required.
func (d Dataset) Lineage(partition int) []ParentPartitions {
	n := d.g.node(d.id)
	if n.op == OpSource {
		return nil
	}
	parents := d.Parents()
	lineage := make([]ParentPartitions, 0, len(parents))
	switch n.op {
	case OpUnion:
		// Partition i of a union is partition i-offset of the parent
		// that contributes it.
		offset := 0
		for _, parent := range parents {
			np := parent.NumPartitions()
			if partition >= offset && partition < offset+np {
				return []ParentPartitions{{Parent: parent, Partitions: []int{partition - offset}}}
			}
			offset += np
		}
		log.Panicf("rivulet: union partition %d out of range", partition)
	case OpCoalesce:
		return []ParentPartitions{{Parent: parents[0], Partitions: n.groups[partition]}}
	default:
		for i, parent := range parents {
			if d.DepOf(i).Shuffle {
				all := make([]int, parent.NumPartitions())
				for j := range all {
					all[j] = j
				}
				lineage = append(lineage, ParentPartitions{Parent: parent, Partitions: all})
			} else {
				lineage = append(lineage, ParentPartitions{Parent: parent, Partitions: []int{partition}})
			}
		}
	}
	return lineage
}

func pairKey(rec interface{}) interface{} {
	return rec.(Pair).Key
}

func identityKey(rec interface{}) interface{} {
	return rec
}

// SourceReader supplies the records of an external source dataset,
// one partition at a time. Implementations are external collaborators
// (file-format readers and the like); the engine only consumes the
// interface.
type SourceReader interface {
	// ReadPartition returns the records of the given partition. The
	// division of input into partitions is the reader's own; it must
	// be total, non-overlapping and stable across calls.
	ReadPartition(ctx context.Context, partition, numPartitions int) ([]interface{}, error)
}
