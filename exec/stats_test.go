// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"testing"

	"github.com/pondworks/rivulet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	s := testSession(t, Parallelism(2))
	g := rivulet.NewGraph()
	d := g.Parallelize([]interface{}{2.0, 4.0, 4.0, 4.0, 5.0, 5.0, 7.0, 9.0}, 3)
	got, err := s.Stats(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Count)
	assert.InDelta(t, 40.0, got.Sum, 1e-9)
	assert.InDelta(t, 5.0, got.Mean, 1e-9)
	assert.InDelta(t, 4.0, got.Var, 1e-9)
	assert.InDelta(t, 2.0, got.Stdev, 1e-9)
	assert.Equal(t, 2.0, got.Min)
	assert.Equal(t, 9.0, got.Max)
}

func TestStatsMixedNumeric(t *testing.T) {
	s := testSession(t)
	g := rivulet.NewGraph()
	d := g.Parallelize([]interface{}{1, int64(2), 3.0, uint8(4)}, 2)
	got, err := s.Stats(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Count)
	assert.InDelta(t, 10.0, got.Sum, 1e-9)
}

func TestStatsEmpty(t *testing.T) {
	s := testSession(t)
	g := rivulet.NewGraph()
	got, err := s.Stats(context.Background(), g.Parallelize(nil, 2))
	require.NoError(t, err)
	assert.Equal(t, Stats{}, got)
}

func TestStatsNonNumeric(t *testing.T) {
	s := testSession(t)
	g := rivulet.NewGraph()
	_, err := s.Stats(context.Background(), g.Parallelize([]interface{}{"nope"}, 1))
	require.Error(t, err)
}

func TestHistogram(t *testing.T) {
	s := testSession(t, Parallelism(2))
	g := rivulet.NewGraph()
	d := g.Parallelize([]interface{}{0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 9.0, -1.0}, 3)
	counts, err := s.Histogram(context.Background(), d, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	// Buckets: [0,1) [1,2) [2,3]; -1 and 9 fall outside.
	assert.Equal(t, []int64{1, 2, 3}, counts)
}

func TestHistogramBadBoundaries(t *testing.T) {
	s := testSession(t)
	g := rivulet.NewGraph()
	d := g.Parallelize([]interface{}{1.0}, 1)
	_, err := s.Histogram(context.Background(), d, []float64{1})
	assert.Error(t, err)
	_, err = s.Histogram(context.Background(), d, []float64{2, 1})
	assert.Error(t, err)
}
