// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/pondworks/rivulet/stream"
)

// Reader returns a reader computing the records of one partition of d.
// The caller must provide one reader per lineage entry of the
// partition (see Lineage): for narrow dependencies, the parent
// partition's records; for wide dependencies, the shuffled records
// destined to this partition. Source nodes take no dependency readers.
//
// No user code runs until the returned reader is read from; this is
// the lazy-evaluation boundary.
func (d Dataset) Reader(partition int, deps []stream.Reader) stream.Reader {
	n := d.g.node(d.id)
	switch n.op {
	case OpSource:
		if n.data != nil {
			return stream.SliceReader(n.data[partition])
		}
		src, np := n.source, n.nparts
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			return src.ReadPartition(ctx, partition, np)
		})
	case OpMap:
		return &mapReader{fn: n.mapFn, reader: deps[0]}
	case OpFilter:
		return &filterReader{pred: n.filterFn, reader: deps[0]}
	case OpFlatMap:
		return &flatmapReader{fn: n.flatMapFn, reader: deps[0]}
	case OpMapPartitions:
		fn, in := n.mapPartFn, deps[0]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			recs, err := stream.ReadAll(ctx, in)
			if err != nil {
				return nil, err
			}
			return fn(ctx, partition, recs), nil
		})
	case OpUnion, OpRepartition, OpPartitionBy:
		// Union reads its single contributing parent partition;
		// repartition and partitionBy read their (possibly shuffled)
		// input unchanged.
		return deps[0]
	case OpCoalesce:
		return deps[0]
	case OpKeyBy:
		return &mapReader{fn: keyByFn(n.keyFn), reader: deps[0]}
	case OpMapValues:
		return &mapReader{fn: mapValuesFn(n.mapFn), reader: deps[0]}
	case OpFlatMapValues:
		return &flatmapReader{fn: flatMapValuesFn(n.flatMapFn), reader: deps[0]}
	case OpDistinct:
		in := deps[0]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			return distinct(ctx, in)
		})
	case OpSortBy:
		keyFn, less, in := n.keyFn, n.lessFn, deps[0]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			recs, err := stream.ReadAll(ctx, in)
			if err != nil {
				return nil, err
			}
			sort.SliceStable(recs, func(i, j int) bool {
				return less(keyFn(recs[i]), keyFn(recs[j]))
			})
			return recs, nil
		})
	case OpGroupByKey:
		in := deps[0]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			return groupByKey(ctx, in)
		})
	case OpReduceByKey:
		fn, in := n.reduceFn, deps[0]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			return reduceByKey(ctx, in, fn)
		})
	case OpJoin, OpLeftOuterJoin, OpRightOuterJoin:
		op, left, right := n.op, deps[0], deps[1]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			return join(ctx, op, left, right)
		})
	case OpCogroup:
		left, right := deps[0], deps[1]
		return deferred(func(ctx context.Context) ([]interface{}, error) {
			return cogroup(ctx, left, right)
		})
	default:
		log.Panicf("rivulet: unhandled op %s", n.op)
		return nil
	}
}

// A deferredReader materializes its records on first read and then
// serves them like a slice reader. It backs operations that must see
// their whole input (grouping, sorting, joining) before emitting.
type deferredReader struct {
	compute func(ctx context.Context) ([]interface{}, error)
	reader  stream.Reader
	err     error
}

func deferred(compute func(ctx context.Context) ([]interface{}, error)) stream.Reader {
	return &deferredReader{compute: compute}
}

func (d *deferredReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.reader == nil {
		recs, err := d.compute(ctx)
		if err != nil {
			d.err = err
			return 0, err
		}
		d.reader = stream.SliceReader(recs)
	}
	return d.reader.Read(ctx, out)
}

type mapReader struct {
	fn     MapFunc
	reader stream.Reader
	err    error
}

func (m *mapReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	var n int
	n, m.err = m.reader.Read(ctx, out)
	for i := 0; i < n; i++ {
		out[i] = m.fn(out[i])
	}
	return n, m.err
}

type filterReader struct {
	pred   FilterFunc
	reader stream.Reader
	in     []interface{}
	err    error
}

func (f *filterReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	var m int
	for m < len(out) && f.err == nil {
		if f.in == nil {
			f.in = make([]interface{}, len(out))
		}
		var n int
		n, f.err = f.reader.Read(ctx, f.in[:len(out)])
		for i := 0; i < n; i++ {
			if f.pred(f.in[i]) {
				out[m] = f.in[i]
				m++
			}
		}
		if f.err == nil && m == 0 {
			continue
		}
		if m > 0 || f.err != nil {
			break
		}
	}
	return m, f.err
}

type flatmapReader struct {
	fn      FlatMapFunc
	reader  stream.Reader
	in      []interface{}
	pending []interface{}
	eof     bool
	err     error
}

func (f *flatmapReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	var m int
	for m < len(out) {
		if len(f.pending) > 0 {
			n := copy(out[m:], f.pending)
			f.pending = f.pending[n:]
			m += n
			continue
		}
		if f.eof {
			break
		}
		if f.in == nil {
			f.in = make([]interface{}, stream.DefaultChunksize)
		}
		n, err := f.reader.Read(ctx, f.in)
		if err != nil && err != stream.EOF {
			f.err = err
			return m, err
		}
		f.eof = err == stream.EOF
		for i := 0; i < n; i++ {
			f.pending = append(f.pending, f.fn(f.in[i])...)
		}
	}
	if f.eof && len(f.pending) == 0 {
		f.err = stream.EOF
		return m, stream.EOF
	}
	return m, nil
}

func keyByFn(keyFn KeyFunc) MapFunc {
	return func(rec interface{}) interface{} {
		return Pair{Key: keyFn(rec), Value: rec}
	}
}

func mapValuesFn(fn MapFunc) MapFunc {
	return func(rec interface{}) interface{} {
		p := rec.(Pair)
		return Pair{Key: p.Key, Value: fn(p.Value)}
	}
}

func flatMapValuesFn(fn FlatMapFunc) FlatMapFunc {
	return func(rec interface{}) []interface{} {
		p := rec.(Pair)
		vals := fn(p.Value)
		out := make([]interface{}, len(vals))
		for i, v := range vals {
			out[i] = Pair{Key: p.Key, Value: v}
		}
		return out
	}
}

func distinct(ctx context.Context, in stream.Reader) ([]interface{}, error) {
	recs, err := stream.ReadAll(ctx, in)
	if err != nil {
		return nil, err
	}
	seen := make(map[interface{}]bool, len(recs))
	out := recs[:0]
	for _, rec := range recs {
		if !seen[rec] {
			seen[rec] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// groupByKey groups pairs by key. The order of values within a group
// follows their arrival order; the order of groups is unspecified.
func groupByKey(ctx context.Context, in stream.Reader) ([]interface{}, error) {
	recs, err := stream.ReadAll(ctx, in)
	if err != nil {
		return nil, err
	}
	groups := make(map[interface{}][]interface{})
	var keys []interface{}
	for _, rec := range recs {
		p, ok := rec.(Pair)
		if !ok {
			return nil, fmt.Errorf("groupbykey: record of type %T is not a Pair", rec)
		}
		if _, ok := groups[p.Key]; !ok {
			keys = append(keys, p.Key)
		}
		groups[p.Key] = append(groups[p.Key], p.Value)
	}
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = Pair{Key: k, Value: groups[k]}
	}
	return out, nil
}

// reduceByKey combines the (already map-side pre-combined) per-key
// partials arriving at a destination partition.
func reduceByKey(ctx context.Context, in stream.Reader, fn ReduceFunc) ([]interface{}, error) {
	recs, err := stream.ReadAll(ctx, in)
	if err != nil {
		return nil, err
	}
	totals := make(map[interface{}]interface{})
	var keys []interface{}
	for _, rec := range recs {
		p, ok := rec.(Pair)
		if !ok {
			return nil, fmt.Errorf("reducebykey: record of type %T is not a Pair", rec)
		}
		if prev, ok := totals[p.Key]; ok {
			totals[p.Key] = fn(prev, p.Value)
		} else {
			keys = append(keys, p.Key)
			totals[p.Key] = p.Value
		}
	}
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = Pair{Key: k, Value: totals[k]}
	}
	return out, nil
}

func readGroups(ctx context.Context, in stream.Reader) (map[interface{}][]interface{}, []interface{}, error) {
	recs, err := stream.ReadAll(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	groups := make(map[interface{}][]interface{})
	var keys []interface{}
	for _, rec := range recs {
		p, ok := rec.(Pair)
		if !ok {
			return nil, nil, fmt.Errorf("join: record of type %T is not a Pair", rec)
		}
		if _, ok := groups[p.Key]; !ok {
			keys = append(keys, p.Key)
		}
		groups[p.Key] = append(groups[p.Key], p.Value)
	}
	return groups, keys, nil
}

func join(ctx context.Context, op OpKind, left, right stream.Reader) ([]interface{}, error) {
	lg, lkeys, err := readGroups(ctx, left)
	if err != nil {
		return nil, err
	}
	rg, rkeys, err := readGroups(ctx, right)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	for _, k := range lkeys {
		rvals, ok := rg[k]
		switch {
		case ok:
			for _, lv := range lg[k] {
				for _, rv := range rvals {
					out = append(out, Pair{Key: k, Value: Joined{Left: lv, Right: rv, HasLeft: true, HasRight: true}})
				}
			}
		case op == OpLeftOuterJoin:
			for _, lv := range lg[k] {
				out = append(out, Pair{Key: k, Value: Joined{Left: lv, HasLeft: true}})
			}
		}
	}
	if op == OpRightOuterJoin {
		for _, k := range rkeys {
			if _, ok := lg[k]; ok {
				continue
			}
			for _, rv := range rg[k] {
				out = append(out, Pair{Key: k, Value: Joined{Right: rv, HasRight: true}})
			}
		}
	}
	return out, nil
}

func cogroup(ctx context.Context, left, right stream.Reader) ([]interface{}, error) {
	lg, lkeys, err := readGroups(ctx, left)
	if err != nil {
		return nil, err
	}
	rg, rkeys, err := readGroups(ctx, right)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	for _, k := range lkeys {
		out = append(out, Pair{Key: k, Value: [][]interface{}{lg[k], rg[k]}})
	}
	for _, k := range rkeys {
		if _, ok := lg[k]; ok {
			continue
		}
		out = append(out, Pair{Key: k, Value: [][]interface{}{nil, rg[k]}})
	}
	return out, nil
}
