// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/pondworks/rivulet"
	"github.com/pondworks/rivulet/stream"
)

// fetch returns the materialized records of one partition, recomputing
// them from lineage on a miss. This is the recovery path: it is used
// when a cached or transient partition has been evicted (or its disk
// entry is unreadable) after the stage that produced it already ran.
// Recomputation performs any needed shuffles in memory rather than
// through the shuffle service.
func (r *run) fetch(ctx context.Context, d rivulet.Dataset, partition int, worker string) ([]interface{}, error) {
	key := storeKey{d.ID(), partition}
	return r.sess.store.Fetch(ctx, key, d.Policy(), worker, func(ctx context.Context) ([]interface{}, error) {
		return r.recompute(ctx, d, partition, worker)
	})
}

func (r *run) recompute(ctx context.Context, d rivulet.Dataset, partition int, worker string) ([]interface{}, error) {
	entries := d.Lineage(partition)
	if entries == nil {
		return stream.ReadAll(ctx, d.Reader(partition, nil))
	}
	readers := make([]stream.Reader, len(entries))
	for i, ent := range entries {
		dep := d.DepOf(i)
		if dep.Shuffle {
			recs, err := r.reshuffle(ctx, d, i, dep, partition, worker)
			if err != nil {
				return nil, err
			}
			readers[i] = stream.SliceReader(recs)
			continue
		}
		subs := make([]stream.Reader, len(ent.Partitions))
		for j, pp := range ent.Partitions {
			recs, err := r.fetch(ctx, ent.Parent, pp, worker)
			if err != nil {
				return nil, err
			}
			subs[j] = stream.SliceReader(recs)
		}
		readers[i] = stream.MultiReader(subs...)
	}
	return stream.ReadAll(ctx, d.Reader(partition, readers))
}

// reshuffle recomputes, in memory, the records of one wide dependency
// destined to the given partition.
func (r *run) reshuffle(ctx context.Context, d rivulet.Dataset, depIdx int, dep rivulet.Dep, partition int, worker string) ([]interface{}, error) {
	nsrc := dep.Parent.NumPartitions()
	part := dep.Partitioner
	if dep.Range {
		var err error
		part, err = r.rangePartitioner(ctx, r.shuffleID(wideInput{child: d, depIdx: depIdx, dep: dep}), wideInput{child: d, depIdx: depIdx, dep: dep})
		if err != nil {
			return nil, err
		}
	}
	var out []interface{}
	for src := 0; src < nsrc; src++ {
		recs, err := r.fetch(ctx, dep.Parent, src, worker)
		if err != nil {
			return nil, err
		}
		if dep.Combiner != nil {
			recs, err = combine(recs, dep.Key, dep.Combiner)
			if err != nil {
				return nil, err
			}
		}
		for _, rec := range recs {
			if part.Assign(dep.Key(rec)) == partition {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}
