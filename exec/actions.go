// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/pondworks/rivulet"
)

// Actions force evaluation of a dataset. Aggregating actions run a
// per-partition pass as a hidden sink transformation so only partition
// summaries travel to the driver; Collect and Take move the records
// themselves.

// runSink evaluates d through a transient per-partition sink function
// and returns the sink's output partitions. The sink node is released
// (and its cached output dropped) before returning.
func (s *Session) runSink(ctx context.Context, d rivulet.Dataset, fn rivulet.MapPartitionsFunc) ([][]interface{}, error) {
	sink := d.MapPartitions(fn)
	defer sink.Graph().Release(sink)
	return s.materialize(ctx, sink)
}

// Collect evaluates d and returns all of its records, concatenated in
// partition index order.
func (s *Session) Collect(ctx context.Context, d rivulet.Dataset) ([]interface{}, error) {
	parts, err := s.materialize(ctx, d)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}

// Count returns the number of records in d.
func (s *Session) Count(ctx context.Context, d rivulet.Dataset) (int64, error) {
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		return []interface{}{int64(len(recs))}
	})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, part := range parts {
		for _, v := range part {
			total += v.(int64)
		}
	}
	return total, nil
}

// CountByKey returns the number of records per key. Records must be
// Pairs.
func (s *Session) CountByKey(ctx context.Context, d rivulet.Dataset) (map[interface{}]int64, error) {
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		counts := make(map[interface{}]int64)
		for _, rec := range recs {
			counts[rec.(rivulet.Pair).Key]++
		}
		out := make([]interface{}, 0, len(counts))
		for k, n := range counts {
			out = append(out, rivulet.Pair{Key: k, Value: n})
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[interface{}]int64)
	for _, part := range parts {
		for _, rec := range part {
			p := rec.(rivulet.Pair)
			counts[p.Key] += p.Value.(int64)
		}
	}
	return counts, nil
}

// First returns the first record of d, by partition index order. It
// returns a NotExist error for an empty dataset.
func (s *Session) First(ctx context.Context, d rivulet.Dataset) (interface{}, error) {
	recs, err := s.Take(ctx, d, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.E(errors.NotExist, "first of empty dataset")
	}
	return recs[0], nil
}

// Take returns up to n records of d, in partition index order.
func (s *Session) Take(ctx context.Context, d rivulet.Dataset, n int) ([]interface{}, error) {
	if n < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("take %d", n))
	}
	parts, err := s.materialize(ctx, d)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, n)
	for _, part := range parts {
		for _, rec := range part {
			if len(out) == n {
				return out, nil
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// Top returns the n largest records of d under less, in descending
// order. Ties resolve to the record occurring earlier in partition
// index order.
func (s *Session) Top(ctx context.Context, d rivulet.Dataset, n int, less rivulet.LessFunc) ([]interface{}, error) {
	return s.ordered(ctx, d, n, func(a, b interface{}) bool { return less(b, a) })
}

// TakeOrdered returns the n smallest records of d under less, in
// ascending order. Ties resolve to the record occurring earlier in
// partition index order.
func (s *Session) TakeOrdered(ctx context.Context, d rivulet.Dataset, n int, less rivulet.LessFunc) ([]interface{}, error) {
	return s.ordered(ctx, d, n, less)
}

func (s *Session) ordered(ctx context.Context, d rivulet.Dataset, n int, less rivulet.LessFunc) ([]interface{}, error) {
	if n < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("take %d", n))
	}
	// Each partition contributes only its own best n candidates.
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		cand := make([]interface{}, len(recs))
		copy(cand, recs)
		sort.SliceStable(cand, func(i, j int) bool { return less(cand[i], cand[j]) })
		if len(cand) > n {
			cand = cand[:n]
		}
		return cand
	})
	if err != nil {
		return nil, err
	}
	var all []interface{}
	for _, part := range parts {
		all = append(all, part...)
	}
	sort.SliceStable(all, func(i, j int) bool { return less(all[i], all[j]) })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// Reduce combines all records of d with fn, associating within each
// partition first and then across partitions in index order. fn must
// be associative. Reduce returns an Invalid error for an empty
// dataset.
func (s *Session) Reduce(ctx context.Context, d rivulet.Dataset, fn rivulet.ReduceFunc) (interface{}, error) {
	partials, err := s.partials(ctx, d, fn)
	if err != nil {
		return nil, err
	}
	if len(partials) == 0 {
		return nil, errors.E(errors.Invalid, "reduce of empty dataset")
	}
	acc := partials[0]
	for _, p := range partials[1:] {
		acc = fn(acc, p)
	}
	return acc, nil
}

// Fold combines all records of d with fn starting from zero. The zero
// value is applied once, at the driver; fn must be associative.
func (s *Session) Fold(ctx context.Context, d rivulet.Dataset, zero interface{}, fn rivulet.ReduceFunc) (interface{}, error) {
	partials, err := s.partials(ctx, d, fn)
	if err != nil {
		return nil, err
	}
	acc := zero
	for _, p := range partials {
		acc = fn(acc, p)
	}
	return acc, nil
}

// partials reduces each non-empty partition to a single value,
// returned in partition index order.
func (s *Session) partials(ctx context.Context, d rivulet.Dataset, fn rivulet.ReduceFunc) ([]interface{}, error) {
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		if len(recs) == 0 {
			return nil
		}
		acc := recs[0]
		for _, rec := range recs[1:] {
			acc = fn(acc, rec)
		}
		return []interface{}{acc}
	})
	if err != nil {
		return nil, err
	}
	var partials []interface{}
	for _, part := range parts {
		partials = append(partials, part...)
	}
	return partials, nil
}

// Foreach applies fn to every record of d for its side effects. No
// records are returned to the driver.
func (s *Session) Foreach(ctx context.Context, d rivulet.Dataset, fn rivulet.ForeachFunc) error {
	_, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		for _, rec := range recs {
			fn(ctx, rec)
		}
		return nil
	})
	return err
}

// A RecordWriter receives the partitions of a saved dataset.
// WritePartition may be called concurrently for distinct partitions.
type RecordWriter interface {
	WritePartition(ctx context.Context, partition int, records []interface{}) error
}

// Save evaluates d and writes each of its partitions to w. The first
// write error aborts the save; partitions already written stay
// written.
func (s *Session) Save(ctx context.Context, d rivulet.Dataset, w RecordWriter) error {
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		if err := w.WritePartition(ctx, partition, recs); err != nil {
			return []interface{}{err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, part := range parts {
		for _, rec := range part {
			if err, ok := rec.(error); ok {
				return err
			}
		}
	}
	return nil
}
