// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/pondworks/rivulet"
)

func TestCollectOrdered(t *testing.T) {
	s := testSession(t, Parallelism(4))
	g := rivulet.NewGraph()
	nums := make([]interface{}, 14)
	for i := range nums {
		nums[i] = i
	}
	d := g.Parallelize(nums, 4).Map(func(v interface{}) interface{} {
		x := v.(int)
		return x * x
	})
	got, err := s.Collect(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]interface{}, 14)
	for i := range want {
		want[i] = i * i
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReduceByKeyPartitionCounts(t *testing.T) {
	ctx := context.Background()
	for _, nparts := range []int{1, 2, 4} {
		s := testSession(t, Parallelism(2))
		g := rivulet.NewGraph()
		d := g.Parallelize(recordsOf(1, 2, 3, 4, 5, 6, 7, 8), nparts).
			KeyBy(func(v interface{}) interface{} { return v.(int) % 3 }).
			ReduceByKey(sum, 0)
		recs, err := s.Collect(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		got := make(map[interface{}]interface{})
		for _, rec := range recs {
			p := rec.(rivulet.Pair)
			got[p.Key] = p.Value
		}
		want := map[interface{}]interface{}{0: 9, 1: 12, 2: 15}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("nparts=%d: got %v, want %v", nparts, got, want)
		}
	}
}

func TestSortByGlobalOrder(t *testing.T) {
	s := testSession(t, Parallelism(4))
	g := rivulet.NewGraph()
	d := g.Parallelize(recordsOf(9, 3, 7, 1, 8, 2, 6, 4, 5, 0, 3, 7), 3).
		SortBy(identity, intLess, 4)
	got, err := s.Collect(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	want := recordsOf(0, 1, 2, 3, 3, 4, 5, 6, 7, 7, 8, 9)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRepartitionMultiset(t *testing.T) {
	s := testSession(t)
	g := rivulet.NewGraph()
	src := recordsOf(3, 1, 4, 1, 5, 9, 2, 6)
	for _, d := range []rivulet.Dataset{
		g.Parallelize(src, 2).Repartition(5),
		g.Parallelize(src, 4).Coalesce(2),
	} {
		got, err := s.Collect(context.Background(), d)
		if err != nil {
			t.Fatal(err)
		}
		sort.Slice(got, func(i, j int) bool { return got[i].(int) < got[j].(int) })
		want := append([]interface{}{}, src...)
		sort.Slice(want, func(i, j int) bool { return want[i].(int) < want[j].(int) })
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%v: got %v, want %v", d.Op(), got, want)
		}
	}
}

func TestShuffleFreeJoin(t *testing.T) {
	g := rivulet.NewGraph()
	part := rivulet.NewHashPartitioner(4)
	left := g.Parallelize(pairsOf(1, 10, 2, 20, 3, 30), 2).PartitionBy(part)
	right := g.Parallelize(pairsOf(2, 200, 3, 300, 4, 400), 2).PartitionBy(rivulet.NewHashPartitioner(4))
	join := left.Join(right)

	// Each PartitionBy shuffles once; the join itself must not.
	plan := compile(join)
	if got, want := plan.numShuffles, 2; got != want {
		t.Errorf("got %d shuffles, want %d", got, want)
	}
	if got, want := len(plan.stages), 3; got != want {
		t.Errorf("got %d stages, want %d", got, want)
	}

	s := testSession(t, Parallelism(2))
	recs, err := s.Collect(context.Background(), join)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[int]int)
	for _, rec := range recs {
		p := rec.(rivulet.Pair)
		got[p.Key.(int)] = p.Value.(rivulet.Joined).Right.(int)
	}
	if want := map[int]int{2: 200, 3: 300}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRetrySucceeds(t *testing.T) {
	var injected int32
	s := testSession(t,
		Parallelism(2),
		Retries(3),
		Injector(func(task string, attempt int) error {
			if attempt < 3 {
				atomic.AddInt32(&injected, 1)
				return errors.New("injected failure")
			}
			return nil
		}),
	)
	g := rivulet.NewGraph()
	d := g.Parallelize(recordsOf(1, 2, 3, 4), 2)
	got, err := s.Collect(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if want := recordsOf(1, 2, 3, 4); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if atomic.LoadInt32(&injected) == 0 {
		t.Error("injector never fired")
	}
}

func TestRetryExhausted(t *testing.T) {
	s := testSession(t,
		Retries(2),
		Injector(func(task string, attempt int) error {
			return errors.New("injected failure")
		}),
	)
	g := rivulet.NewGraph()
	d := g.Parallelize(recordsOf(1), 1)
	_, err := s.Collect(context.Background(), d)
	terr, ok := err.(*TaskError)
	if !ok {
		t.Fatalf("got %v, want TaskError", err)
	}
	if got, want := terr.Attempts, 2; got != want {
		t.Errorf("got %d attempts, want %d", got, want)
	}
	// The error identifies the failed output partition and carries its
	// lineage so callers can see what a recomputation would consume.
	if terr.Node == "" {
		t.Fatal("TaskError missing output node")
	}
	if got, want := terr.Partition, 0; got != want {
		t.Errorf("got partition %d, want %d", got, want)
	}
	if len(terr.Lineage) != 1 {
		t.Fatalf("got lineage %v, want one parent", terr.Lineage)
	}
	if got, want := terr.Lineage[0].Parent.ID(), d.ID(); got != want {
		t.Errorf("got lineage parent %v, want %v", got, want)
	}
	if got, want := terr.Lineage[0].Partitions, []int{0}; !reflect.DeepEqual(got, want) {
		t.Errorf("got lineage partitions %v, want %v", got, want)
	}
}

func TestFatalErrorSkipsRetry(t *testing.T) {
	s := testSession(t,
		Retries(5),
		Injector(func(task string, attempt int) error {
			return errors.E(errors.Fatal, "unrecoverable")
		}),
	)
	g := rivulet.NewGraph()
	_, err := s.Collect(context.Background(), g.Parallelize(recordsOf(1), 1))
	terr, ok := err.(*TaskError)
	if !ok {
		t.Fatalf("got %v, want TaskError", err)
	}
	if got, want := terr.Attempts, 1; got != want {
		t.Errorf("got %d attempts, want %d", got, want)
	}
}

func TestUserPanicIsFatal(t *testing.T) {
	s := testSession(t, Retries(5))
	g := rivulet.NewGraph()
	d := g.Parallelize(recordsOf(1), 1).Map(func(v interface{}) interface{} {
		panic("boom")
	})
	_, err := s.Collect(context.Background(), d)
	terr, ok := err.(*TaskError)
	if !ok {
		t.Fatalf("got %v, want TaskError", err)
	}
	if got, want := terr.Attempts, 1; got != want {
		t.Errorf("got %d attempts, want %d", got, want)
	}
	if errors.Recover(terr.Err).Severity != errors.Fatal {
		t.Errorf("got %v, want fatal", terr.Err)
	}
}

func TestCancellation(t *testing.T) {
	s := testSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := rivulet.NewGraph()
	if _, err := s.Collect(ctx, g.Parallelize(recordsOf(1), 1)); err == nil {
		t.Fatal("expected error from canceled context")
	}
}

func TestShuffleIntegrityRecovery(t *testing.T) {
	s := testSession(t, Parallelism(2))
	g := rivulet.NewGraph()
	d := g.Parallelize(pairsOf(1, 10, 2, 20, 3, 30, 4, 40), 2).GroupByKey()
	s.bind(g)

	ctx := context.Background()
	r := newRun(s, compile(d))
	st := r.plan.stages[len(r.plan.stages)-1]
	if len(st.wides) != 1 {
		t.Fatalf("got %d wide inputs, want 1", len(st.wides))
	}
	wi := st.wides[0]
	if err := r.writeShuffle(ctx, nil, wi); err != nil {
		t.Fatal(err)
	}
	id := r.shuffleID(wi)
	s.shuffler.corrupt(shuffleKey{id, 0, 0})

	task := newTask("consumer", func(ctx context.Context, w *Worker) error {
		return r.computePartition(ctx, st, 0, w)
	})
	if err := r.runTask(ctx, nil, task); err != nil {
		t.Fatal(err)
	}
	if got, want := task.State(), TaskOk; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The producing write ran once up front and once for recovery.
	if got, want := r.writes[id][0].Attempts(), 2; got != want {
		t.Errorf("got %d write attempts, want %d", got, want)
	}
}

type countingSource struct {
	reads int64
}

func (c *countingSource) ReadPartition(ctx context.Context, partition, numPartitions int) ([]interface{}, error) {
	atomic.AddInt64(&c.reads, 1)
	return recordsOf(partition * 10), nil
}

func TestPersistAvoidsRecompute(t *testing.T) {
	ctx := context.Background()
	s := testSession(t)
	g := rivulet.NewGraph()
	src := &countingSource{}
	d := g.ReadSource(src, 2).Map(func(v interface{}) interface{} { return v.(int) + 1 }).Persist(rivulet.Memory)

	for i := 0; i < 3; i++ {
		got, err := s.Collect(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		if want := recordsOf(1, 11); !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if got, want := atomic.LoadInt64(&src.reads), int64(2); got != want {
		t.Errorf("got %d source reads, want %d", got, want)
	}

	d.Unpersist()
	if _, err := s.Collect(ctx, d); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&src.reads), int64(4); got != want {
		t.Errorf("got %d source reads after unpersist, want %d", got, want)
	}
}

type slowSource struct {
	countingSource
	delay time.Duration
}

func (s *slowSource) ReadPartition(ctx context.Context, partition, numPartitions int) ([]interface{}, error) {
	time.Sleep(s.delay)
	return s.countingSource.ReadPartition(ctx, partition, numPartitions)
}

func TestConcurrentActionsShareComputation(t *testing.T) {
	s := testSession(t, Parallelism(4))
	g := rivulet.NewGraph()
	// The delay keeps the first action's materialization in flight
	// while the second arrives at the same partition.
	src := &slowSource{delay: 50 * time.Millisecond}
	d := g.ReadSource(src, 1).Persist(rivulet.Memory)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.Collect(context.Background(), d)
			if err != nil {
				t.Error(err)
				return
			}
			if want := recordsOf(0); !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		}()
	}
	wg.Wait()
	if got, want := atomic.LoadInt64(&src.reads), int64(1); got != want {
		t.Errorf("got %d source reads, want %d", got, want)
	}
}

func TestTransientsDroppedBetweenActions(t *testing.T) {
	ctx := context.Background()
	s := testSession(t)
	g := rivulet.NewGraph()
	src := &countingSource{}
	d := g.ReadSource(src, 2)
	for i := int64(1); i <= 2; i++ {
		if _, err := s.Collect(ctx, d); err != nil {
			t.Fatal(err)
		}
		if got, want := atomic.LoadInt64(&src.reads), 2*i; got != want {
			t.Errorf("got %d source reads, want %d", got, want)
		}
	}
}

func TestAccumulatorExactlyOnce(t *testing.T) {
	var failed int32
	s := testSession(t,
		Parallelism(2),
		Retries(3),
		Injector(func(task string, attempt int) error {
			// Fail every task's first attempt.
			if attempt == 1 {
				atomic.AddInt32(&failed, 1)
				return errors.New("injected failure")
			}
			return nil
		}),
	)
	g := rivulet.NewGraph()
	d := g.Parallelize(recordsOf(1, 2, 3, 4, 5, 6), 3)
	acc := s.Accumulator("records", 0, sum)
	err := s.Foreach(context.Background(), d, func(ctx context.Context, rec interface{}) {
		acc.Add(ctx, 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := acc.Value(), 6; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if atomic.LoadInt32(&failed) == 0 {
		t.Error("injector never fired")
	}
}

func TestBroadcast(t *testing.T) {
	s := testSession(t)
	lookup := map[int]string{1: "one", 2: "two"}
	b := s.Broadcast(lookup)
	if v, ok := s.BroadcastValue(b.ID()); !ok || !reflect.DeepEqual(v, lookup) {
		t.Fatalf("got %v, %v", v, ok)
	}
	g := rivulet.NewGraph()
	d := g.Parallelize(recordsOf(1, 2), 2).Map(func(v interface{}) interface{} {
		return b.Value().(map[int]string)[v.(int)]
	})
	got, err := s.Collect(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if want := []interface{}{"one", "two"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	s.Unbroadcast(b)
	if _, ok := s.BroadcastValue(b.ID()); ok {
		t.Error("broadcast still registered")
	}
}

func TestGroupByKeySession(t *testing.T) {
	s := testSession(t, Parallelism(2))
	g := rivulet.NewGraph()
	d := g.Parallelize(pairsOf(1, 10, 2, 20, 1, 11, 2, 21, 1, 12), 3).GroupByKey()
	recs, err := s.Collect(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	sizes := make(map[int]int)
	for _, rec := range recs {
		p := rec.(rivulet.Pair)
		sizes[p.Key.(int)] = len(p.Value.([]interface{}))
	}
	if want := map[int]int{1: 3, 2: 2}; !reflect.DeepEqual(sizes, want) {
		t.Errorf("got %v, want %v", sizes, want)
	}
}
