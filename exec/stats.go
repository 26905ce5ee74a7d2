// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/pondworks/rivulet"
)

// Stats summarizes a numeric dataset.
type Stats struct {
	Count    int64
	Sum      float64
	Mean     float64
	Var      float64
	Stdev    float64
	Min, Max float64
}

// statsPartial is the per-partition summary merged at the driver.
// Variance merges exactly from (count, sum, sum of squares).
type statsPartial struct {
	Count      int64
	Sum, Sqsum float64
	Min, Max   float64
}

// Stats evaluates d, which must contain numeric records, and returns
// its summary statistics. Var and Stdev are population moments. An
// empty dataset yields a zero Stats.
func (s *Session) Stats(ctx context.Context, d rivulet.Dataset) (Stats, error) {
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		if len(recs) == 0 {
			return nil
		}
		p := statsPartial{Min: math.Inf(1), Max: math.Inf(-1)}
		for _, rec := range recs {
			x := toFloat(rec)
			p.Count++
			p.Sum += x
			p.Sqsum += x * x
			p.Min = math.Min(p.Min, x)
			p.Max = math.Max(p.Max, x)
		}
		return []interface{}{p}
	})
	if err != nil {
		return Stats{}, err
	}
	total := statsPartial{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, part := range parts {
		for _, rec := range part {
			p := rec.(statsPartial)
			total.Count += p.Count
			total.Sum += p.Sum
			total.Sqsum += p.Sqsum
			total.Min = math.Min(total.Min, p.Min)
			total.Max = math.Max(total.Max, p.Max)
		}
	}
	if total.Count == 0 {
		return Stats{}, nil
	}
	n := float64(total.Count)
	mean := total.Sum / n
	variance := total.Sqsum/n - mean*mean
	if variance < 0 {
		// Guard against rounding below zero.
		variance = 0
	}
	return Stats{
		Count: total.Count,
		Sum:   total.Sum,
		Mean:  mean,
		Var:   variance,
		Stdev: math.Sqrt(variance),
		Min:   total.Min,
		Max:   total.Max,
	}, nil
}

// Histogram evaluates d, which must contain numeric records, and
// counts records into the buckets delimited by the sorted boundaries.
// Boundaries define len(boundaries)-1 buckets; each bucket is closed
// on the left and open on the right except the last, which is closed
// on both sides. Records outside the boundaries are ignored.
func (s *Session) Histogram(ctx context.Context, d rivulet.Dataset, boundaries []float64) ([]int64, error) {
	if len(boundaries) < 2 {
		return nil, errors.E(errors.Invalid, "histogram needs at least two boundaries")
	}
	if !sort.Float64sAreSorted(boundaries) {
		return nil, errors.E(errors.Invalid, "histogram boundaries must be sorted")
	}
	nb := len(boundaries) - 1
	parts, err := s.runSink(ctx, d, func(ctx context.Context, partition int, recs []interface{}) []interface{} {
		counts := make([]int64, nb)
		for _, rec := range recs {
			x := toFloat(rec)
			if x < boundaries[0] || x > boundaries[nb] {
				continue
			}
			// Last boundary not exceeding x; the top boundary folds
			// into the final bucket.
			i := sort.Search(len(boundaries), func(k int) bool { return boundaries[k] > x }) - 1
			if i == nb {
				i = nb - 1
			}
			counts[i]++
		}
		out := make([]interface{}, nb)
		for i, c := range counts {
			out[i] = c
		}
		return out
	})
	if err != nil {
		return nil, err
	}
	counts := make([]int64, nb)
	for _, part := range parts {
		for i, rec := range part {
			counts[i] += rec.(int64)
		}
	}
	return counts, nil
}

// toFloat coerces a numeric record to float64, panicking (and thus
// failing the task) on non-numeric records.
func toFloat(rec interface{}) float64 {
	switch x := rec.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	default:
		panic(fmt.Sprintf("non-numeric record of type %T", rec))
	}
}
