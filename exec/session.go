// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec evaluates rivulet dataset graphs. A Session owns the
// engine's runtime state: a pool of in-process workers, the shared
// partition store, and the shuffle service. Actions (Collect, Count,
// Reduce, Save and friends) compile the target dataset's graph into
// stages of per-partition tasks, run the stages in dependency order,
// and read the final stage's materialized output.
package exec

import (
	"context"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/hashicorp/go-multierror"
	"github.com/pondworks/rivulet"
)

// A Session is an evaluation context for dataset graphs. Sessions are
// safe for concurrent use; partitions persisted during one action
// remain available to later actions of the same session.
type Session struct {
	parallelism    int
	maxTaskRetries int
	localityWait   time.Duration

	dir      string
	store    *store
	shuffler *shuffler
	pool     *pool
	status   *status.Status
	injector func(task string, attempt int) error

	mu         sync.Mutex
	graphs     map[*rivulet.Graph]bool
	accums     []*Accumulator
	broadcasts map[string]*Broadcast
	down       bool
}

type options struct {
	config   rivulet.Config
	status   *status.Status
	injector func(task string, attempt int) error
}

// An Option configures a session.
type Option func(*options)

// Parallelism sets the number of in-process workers, and thus the
// number of concurrently executing tasks.
func Parallelism(n int) Option {
	if n < 1 {
		log.Panicf("exec.Parallelism: n=%d", n)
	}
	return func(o *options) { o.config.DefaultParallelism = n }
}

// Retries sets the number of attempts given to a failing task before
// its action fails.
func Retries(n int) Option {
	if n < 1 {
		log.Panicf("exec.Retries: n=%d", n)
	}
	return func(o *options) { o.config.MaxTaskRetries = n }
}

// CacheBudget sets the partition store's in-memory budget.
func CacheBudget(size data.Size) Option {
	return func(o *options) { o.config.CacheBudget = int64(size) }
}

// LocalityWait sets how long the scheduler holds a task for a worker
// that already has its inputs before running it anywhere.
func LocalityWait(d time.Duration) Option {
	return func(o *options) { o.config.LocalityWait = d }
}

// WithConfig applies a whole configuration at once.
func WithConfig(c rivulet.Config) Option {
	return func(o *options) { o.config = c }
}

// Status attaches a status object to which evaluation progress is
// reported.
func Status(s *status.Status) Option {
	return func(o *options) { o.status = s }
}

// Injector installs a hook invoked before every task attempt with the
// task's name and attempt number (starting at 1); a non-nil return
// fails the attempt. It exists for fault-injection testing.
func Injector(fn func(task string, attempt int) error) Option {
	return func(o *options) { o.injector = fn }
}

// Start creates and starts a new session.
func Start(opts ...Option) *Session {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	config := o.config.WithDefaults()
	dir, err := ioutil.TempDir("", "rivulet-")
	if err != nil {
		log.Panicf("exec.Start: tempdir: %v", err)
	}
	s := &Session{
		parallelism:    config.DefaultParallelism,
		maxTaskRetries: config.MaxTaskRetries,
		localityWait:   config.LocalityWait,
		dir:            dir,
		store:          newStore(dir, config.CacheBudget),
		shuffler:       newShuffler(dir),
		status:         o.status,
		injector:       o.injector,
		graphs:         make(map[*rivulet.Graph]bool),
		broadcasts:     make(map[string]*Broadcast),
	}
	s.pool = newPool(s, config.DefaultParallelism)
	return s
}

// Parallelism returns the session's worker count.
func (s *Session) Parallelism() int { return s.parallelism }

// Status returns the session's status object, if any.
func (s *Session) Status() *status.Status { return s.status }

// Shutdown releases the session's resources, removing all spilled
// partition and shuffle data. The session must not be used afterwards.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return nil
	}
	s.down = true
	s.mu.Unlock()
	var errs *multierror.Error
	if err := os.RemoveAll(s.dir); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// bind hooks the session's store into a graph's unpersist
// notifications, once per graph.
func (s *Session) bind(g *rivulet.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.graphs[g] {
		return
	}
	s.graphs[g] = true
	g.OnUnpersist(func(id rivulet.NodeID) {
		s.store.DropNode(id)
	})
}

// materialize evaluates d and returns its partitions in partition
// index order.
func (s *Session) materialize(ctx context.Context, d rivulet.Dataset) ([][]interface{}, error) {
	s.mu.Lock()
	down := s.down
	s.mu.Unlock()
	if down {
		return nil, errors.E(errors.Invalid, "session is shut down")
	}
	s.bind(d.Graph())
	r := newRun(s, compile(d))
	if err := r.evaluate(ctx); err != nil {
		return nil, err
	}
	parts := make([][]interface{}, d.NumPartitions())
	for i := range parts {
		var err error
		parts[i], err = r.fetch(ctx, d, i, "")
		if err != nil {
			return nil, err
		}
	}
	// Unpersisted intermediates do not outlive the action.
	s.store.DropTransient()
	return parts, nil
}

func randomSuffix() string {
	return uuid.NewString()[:8]
}
