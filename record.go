// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import "encoding/gob"

// A Pair is the record type of key-based datasets. Keys must be
// comparable in the sense of the Go language specification, and their
// hashing must be stable across processes for hash partitioning to
// place equal keys together (see HashPartitioner).
type Pair struct {
	Key   interface{}
	Value interface{}
}

// A Joined holds the values joined for one key, one pair of parent
// records at a time. For outer joins, the missing side has its Has
// flag unset.
type Joined struct {
	Left, Right       interface{}
	HasLeft, HasRight bool
}

// RegisterType registers the concrete type of v for record
// serialization. Records spilled to disk or shuffled through
// serialized buffers are gob-encoded, so user-defined record types
// must be registered before execution, exactly as with gob.Register.
func RegisterType(v interface{}) {
	gob.Register(v)
}

func init() {
	gob.Register(Pair{})
	gob.Register(Joined{})
	gob.Register([]interface{}{})
	gob.Register([][]interface{}{})
}
