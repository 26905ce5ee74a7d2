// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

// OpKind enumerates the transformation kinds that a dataset node may
// represent. The enumeration is closed: the scheduler and the pipeline
// builder switch exhaustively over it when classifying dependencies and
// constructing per-partition readers.
type OpKind int

const (
	// OpSource is a leaf node holding (or describing) input data.
	OpSource OpKind = iota
	OpMap
	OpFilter
	OpFlatMap
	OpMapPartitions
	OpUnion
	OpDistinct
	OpSortBy
	OpKeyBy
	OpMapValues
	OpFlatMapValues
	OpPartitionBy
	OpCoalesce
	OpRepartition
	OpJoin
	OpLeftOuterJoin
	OpRightOuterJoin
	OpCogroup
	OpGroupByKey
	OpReduceByKey

	maxOp
)

var opNames = [...]string{
	OpSource:         "source",
	OpMap:            "map",
	OpFilter:         "filter",
	OpFlatMap:        "flatmap",
	OpMapPartitions:  "mappartitions",
	OpUnion:          "union",
	OpDistinct:       "distinct",
	OpSortBy:         "sortby",
	OpKeyBy:          "keyby",
	OpMapValues:      "mapvalues",
	OpFlatMapValues:  "flatmapvalues",
	OpPartitionBy:    "partitionby",
	OpCoalesce:       "coalesce",
	OpRepartition:    "repartition",
	OpJoin:           "join",
	OpLeftOuterJoin:  "leftouterjoin",
	OpRightOuterJoin: "rightouterjoin",
	OpCogroup:        "cogroup",
	OpGroupByKey:     "groupbykey",
	OpReduceByKey:    "reducebykey",
}

// String returns the operation's lower-case name.
func (op OpKind) String() string {
	if op < 0 || op >= maxOp {
		return "invalid"
	}
	return opNames[op]
}

// DepKind describes how a node's partitions depend on its parents'
// partitions.
type DepKind int

const (
	// DepNone is the dependency kind of source nodes.
	DepNone DepKind = iota
	// DepNarrow dependencies map each child partition onto one (or a
	// fixed small set of) parent partitions; no data movement is
	// required.
	DepNarrow
	// DepWide dependencies may draw records from any parent partition
	// and require a shuffle.
	DepWide
)

func (k DepKind) String() string {
	switch k {
	case DepNone:
		return "none"
	case DepNarrow:
		return "narrow"
	case DepWide:
		return "wide"
	}
	return "invalid"
}
