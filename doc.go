// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rivulet implements a lazy, partitioned collection-processing
// engine. Transformations over datasets build an immutable operator
// graph; nothing is computed until an action (Collect, Count, Reduce,
// Save) is invoked through an execution session, which compiles the
// graph into stages of per-partition tasks, shuffles records between
// wide stages, and caches materialized partitions under user-chosen
// persistence policies.
//
// A minimal computation:
//
//	g := rivulet.NewGraph()
//	squares := g.Parallelize(nums, 4).
//		Map(func(v interface{}) interface{} { x := v.(int); return x * x })
//
// The exec package evaluates datasets:
//
//	sess := exec.Start(exec.Parallelism(4))
//	defer sess.Shutdown()
//	out, err := sess.Collect(ctx, squares)
//
// Records are untyped (interface{}); key-value operations use the Pair
// record type. Keys must be gob-encodable and usable as Go map keys.
package rivulet
