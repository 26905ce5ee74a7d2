// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/pondworks/rivulet"
	"github.com/pondworks/rivulet/stream"
	"golang.org/x/sync/errgroup"
)

// retryPolicy backs off between attempts of a failed task.
var retryPolicy = retry.Backoff(10*time.Millisecond, time.Second, 2)

// A run is one evaluation of a plan. It owns the run-scoped state:
// sampled range partitioners, shuffle write tasks (for integrity
// recovery) and the set of task names whose accumulator updates have
// been committed.
type run struct {
	id   string
	sess *Session
	plan *plan

	mu sync.Mutex
	// committed guards exactly-once accumulator commits across task
	// retries.
	committed map[string]bool
	// rangeParts holds partitioners built from key samples for
	// range-partitioned shuffles, keyed by shuffle id.
	rangeParts map[string]rivulet.Partitioner
	// writes maps shuffle ids to their per-source write tasks so
	// integrity failures can re-run the producing write.
	writes map[string][]*Task
}

func newRun(sess *Session, p *plan) *run {
	return &run{
		id:         fmt.Sprintf("run-%s", randomSuffix()),
		sess:       sess,
		plan:       p,
		committed:  make(map[string]bool),
		rangeParts: make(map[string]rivulet.Partitioner),
		writes:     make(map[string][]*Task),
	}
}

// shuffleID names a shuffle within this run.
func (r *run) shuffleID(wi wideInput) string {
	return fmt.Sprintf("%s/%s/%d", r.id, wi.child.ID(), wi.depIdx)
}

// evaluate runs the plan's stages in dependency order. Each stage
// first writes the shuffles feeding it, then computes and stores its
// output partitions.
func (r *run) evaluate(ctx context.Context) error {
	defer func() {
		// Shuffle data does not outlive the run.
		for id := range r.writes {
			r.sess.shuffler.Drop(id)
		}
	}()
	for _, st := range r.plan.stages {
		if err := r.runStage(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runStage(ctx context.Context, st *stage) error {
	var group *status.Group
	if r.sess.status != nil {
		group = r.sess.status.Groupf("%s %s", r.id, st)
	}
	for _, wi := range st.wides {
		if err := r.writeShuffle(ctx, group, wi); err != nil {
			return err
		}
	}

	tasks := make([]*Task, st.out.NumPartitions())
	for i := range tasks {
		pi := i
		name := fmt.Sprintf("%s/stage-%d/part-%d", r.id, st.id, pi)
		tasks[pi] = newTask(name, func(ctx context.Context, w *Worker) error {
			return r.computePartition(ctx, st, pi, w)
		})
		tasks[pi].Prefer = r.inputLocations(st, pi)
		tasks[pi].out, tasks[pi].partition = st.out, pi
	}
	return r.runTasks(ctx, group, tasks)
}

// writeShuffle materializes the producer's partitions and writes the
// shuffle blobs feeding one wide dependency, one write task per source
// partition.
func (r *run) writeShuffle(ctx context.Context, group *status.Group, wi wideInput) error {
	id := r.shuffleID(wi)
	part := wi.dep.Partitioner
	if wi.dep.Range {
		var err error
		part, err = r.rangePartitioner(ctx, id, wi)
		if err != nil {
			return err
		}
	}
	nsrc := wi.dep.Parent.NumPartitions()
	ndst := wi.child.NumPartitions()
	tasks := make([]*Task, nsrc)
	for i := range tasks {
		src := i
		name := fmt.Sprintf("%s/write-%d", id, src)
		tasks[src] = newTask(name, func(ctx context.Context, w *Worker) error {
			return r.writeSource(ctx, wi, id, src, ndst, part, w)
		})
		tasks[src].Prefer = r.sess.store.Locations(storeKey{wi.dep.Parent.ID(), src})
		tasks[src].out, tasks[src].partition = wi.dep.Parent, src
	}
	r.mu.Lock()
	r.writes[id] = tasks
	r.mu.Unlock()
	return r.runTasks(ctx, group, tasks)
}

// writeSource partitions one source partition's records and hands the
// resulting blobs to the shuffle service, pre-combining per key when
// the dependency carries a combiner.
func (r *run) writeSource(ctx context.Context, wi wideInput, id string, src, ndst int, part rivulet.Partitioner, w *Worker) error {
	recs, err := r.fetch(ctx, wi.dep.Parent, src, w.ID)
	if err != nil {
		return err
	}
	if wi.dep.Combiner != nil {
		recs, err = combine(recs, wi.dep.Key, wi.dep.Combiner)
		if err != nil {
			return err
		}
	}
	parts := make([][]interface{}, ndst)
	for _, rec := range recs {
		d := part.Assign(wi.dep.Key(rec))
		parts[d] = append(parts[d], rec)
	}
	return r.sess.shuffler.Write(id, src, parts)
}

// rangeSampleSize bounds the number of keys sampled per shuffle when
// deriving range partitioner bounds.
const rangeSampleSize = 1 << 16

// rangePartitioner builds (once per shuffle) a range partitioner from
// a sample of the producer's keys, so sorted output spreads
// proportionally to the observed key distribution.
func (r *run) rangePartitioner(ctx context.Context, id string, wi wideInput) (rivulet.Partitioner, error) {
	r.mu.Lock()
	if part, ok := r.rangeParts[id]; ok {
		r.mu.Unlock()
		return part, nil
	}
	r.mu.Unlock()

	var (
		sample []interface{}
		total  int
		nsrc   = wi.dep.Parent.NumPartitions()
	)
	for src := 0; src < nsrc; src++ {
		recs, err := r.fetch(ctx, wi.dep.Parent, src, "")
		if err != nil {
			return nil, err
		}
		total += len(recs)
		stride := 1 + len(recs)*nsrc/rangeSampleSize
		for i := 0; i < len(recs); i += stride {
			sample = append(sample, wi.dep.Key(recs[i]))
		}
	}
	log.Debug.Printf("%s: sampled %d of %d keys for range bounds", id, len(sample), total)
	part := rivulet.NewRangePartitioner(wi.child.NumPartitions(), wi.dep.Less, sample)
	r.mu.Lock()
	r.rangeParts[id] = part
	r.mu.Unlock()
	return part, nil
}

// computePartition materializes one output partition of a stage under
// the output node's persistence policy. Fetch collapses concurrent
// materializations, so overlapping runs sharing a dataset compute each
// partition once and entries cached by an earlier run or attempt are
// reused.
func (r *run) computePartition(ctx context.Context, st *stage, partition int, w *Worker) error {
	key := storeKey{st.out.ID(), partition}
	_, err := r.sess.store.Fetch(ctx, key, st.out.Policy(), w.ID, func(ctx context.Context) ([]interface{}, error) {
		return stream.ReadAll(ctx, r.stageReader(st, st.out, partition, w))
	})
	return err
}

// stageReader builds the record pipeline computing one partition of a
// node within a stage. Wide dependencies read from the shuffle
// service; boundary parents read their materialized partitions from
// the store; everything else recurses within the stage.
func (r *run) stageReader(st *stage, d rivulet.Dataset, partition int, w *Worker) stream.Reader {
	entries := d.Lineage(partition)
	if entries == nil {
		return d.Reader(partition, nil)
	}
	readers := make([]stream.Reader, len(entries))
	for i, ent := range entries {
		dep := d.DepOf(i)
		if dep.Shuffle {
			id := r.shuffleID(wideInput{child: d, depIdx: i, dep: dep})
			readers[i] = r.sess.shuffler.OpenReader(id, partition, dep.Parent.NumPartitions())
			continue
		}
		subs := make([]stream.Reader, len(ent.Partitions))
		for j, pp := range ent.Partitions {
			if st.boundary[ent.Parent.ID()] {
				subs[j] = r.storeReader(ent.Parent, pp, w)
			} else {
				subs[j] = r.stageReader(st, ent.Parent, pp, w)
			}
		}
		readers[i] = stream.MultiReader(subs...)
	}
	return d.Reader(partition, readers)
}

// storeReader lazily fetches a materialized partition, recomputing it
// from lineage on a cache miss.
func (r *run) storeReader(d rivulet.Dataset, partition int, w *Worker) stream.Reader {
	read := func(ctx context.Context) ([]interface{}, error) {
		return r.fetch(ctx, d, partition, w.ID)
	}
	return &fetchReader{read: read}
}

type fetchReader struct {
	read   func(ctx context.Context) ([]interface{}, error)
	reader stream.Reader
	err    error
}

func (f *fetchReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.reader == nil {
		recs, err := f.read(ctx)
		if err != nil {
			f.err = err
			return 0, err
		}
		f.reader = stream.SliceReader(recs)
	}
	return f.reader.Read(ctx, out)
}

// inputLocations collects worker locality hints for a compute task
// from the store locations of its narrow inputs.
func (r *run) inputLocations(st *stage, partition int) []string {
	var prefer []string
	for _, ent := range st.out.Lineage(partition) {
		if !st.boundary[ent.Parent.ID()] {
			continue
		}
		for _, pp := range ent.Partitions {
			prefer = append(prefer, r.sess.store.Locations(storeKey{ent.Parent.ID(), pp})...)
		}
	}
	return prefer
}

// runTasks executes a set of tasks concurrently, bounded by the worker
// pool, retrying failed tasks up to the session's budget.
func (r *run) runTasks(ctx context.Context, group *status.Group, tasks []*Task) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return r.runTask(ctx, group, task)
		})
	}
	return g.Wait()
}

func (r *run) runTask(ctx context.Context, group *status.Group, task *Task) error {
	var stat *status.Task
	if group != nil {
		stat = group.Start(task.Name)
		defer stat.Done()
	}
	for retries := 0; ; retries++ {
		err := r.attempt(ctx, task)
		if err == nil {
			task.set(TaskOk, nil)
			return nil
		}
		if ierr, ok := err.(*IntegrityError); ok {
			// The consumer saw a corrupt blob: re-run the producing
			// shuffle write, then retry the consumer.
			log.Error.Printf("%v; re-running producer", ierr)
			if stat != nil {
				stat.Printf("lost shuffle input; recovering")
			}
			task.set(TaskLost, nil)
			if werr := r.rerunWrite(ctx, ierr); werr == nil {
				continue
			} else {
				err = werr
			}
		}
		fatal := errors.Recover(err).Severity == errors.Fatal || errors.Is(errors.Invalid, err)
		if fatal || retries+1 >= r.sess.maxTaskRetries {
			task.set(TaskErr, err)
			return newTaskError(task, err)
		}
		log.Error.Printf("task %s: attempt %d failed: %v", task.Name, retries+1, err)
		if stat != nil {
			stat.Printf("retrying after error: %v", err)
		}
		task.set(TaskPending, nil)
		if werr := retry.Wait(ctx, retryPolicy, retries); werr != nil {
			task.set(TaskErr, err)
			return werr
		}
	}
}

// attempt runs a single attempt of a task on an acquired worker,
// recovering panics from user functions as fatal errors and committing
// accumulator updates on success.
func (r *run) attempt(ctx context.Context, task *Task) error {
	task.mu.Lock()
	prefer, avoid := task.Prefer, task.lastWorker
	task.mu.Unlock()
	w, err := r.sess.pool.Acquire(ctx, prefer, avoid, r.sess.localityWait)
	if err != nil {
		return err
	}
	defer r.sess.pool.Release(w)
	task.mu.Lock()
	task.lastWorker = w.ID
	task.mu.Unlock()
	task.set(TaskRunning, nil)

	sc := newScope()
	tctx := scopedContext(ctx, sc)
	err = func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.E(errors.Fatal, fmt.Errorf("task %s panicked: %v", task.Name, p))
			}
		}()
		if inject := r.sess.injector; inject != nil {
			if err := inject(task.Name, task.Attempts()); err != nil {
				return err
			}
		}
		return task.Do(tctx, w)
	}()
	if err != nil {
		return err
	}
	r.commit(task.Name, sc)
	return nil
}

// commit merges a succeeded attempt's accumulator updates, at most
// once per task name so retried attempts cannot double count.
func (r *run) commit(name string, sc *scope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.committed[name] {
		return
	}
	r.committed[name] = true
	sc.commit()
}

// rerunWrite re-executes the shuffle write task that produced a
// corrupt blob.
func (r *run) rerunWrite(ctx context.Context, ierr *IntegrityError) error {
	r.mu.Lock()
	tasks := r.writes[ierr.Shuffle]
	r.mu.Unlock()
	if ierr.Source >= len(tasks) {
		return errors.E(errors.Fatal, fmt.Sprintf("no write task for %v", ierr))
	}
	task := tasks[ierr.Source]
	task.set(TaskLost, nil)
	return r.runTask(ctx, nil, task)
}
