// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"sync"

	"github.com/pondworks/rivulet"
)

// An Accumulator is a write-mostly aggregation variable. Tasks add
// values through Add; the scheduler merges each task's additions into
// the accumulator's value when the task succeeds, at most once per
// task regardless of retries. Value is therefore exact for actions
// that completed successfully, while additions made by failed or
// duplicate attempts are discarded.
type Accumulator struct {
	// Name identifies the accumulator for reporting.
	Name string

	merge rivulet.ReduceFunc

	mu    sync.Mutex
	value interface{}
}

// Accumulator registers a new accumulator with the given starting
// value and merge function. The merge function must be associative and
// commutative.
func (s *Session) Accumulator(name string, zero interface{}, merge rivulet.ReduceFunc) *Accumulator {
	a := &Accumulator{Name: name, value: zero, merge: merge}
	s.mu.Lock()
	s.accums = append(s.accums, a)
	s.mu.Unlock()
	return a
}

// Add records v against the accumulator. Inside a task, the addition
// is buffered in the task's scope and merged only if the task
// succeeds; outside of any task it is merged immediately.
func (a *Accumulator) Add(ctx context.Context, v interface{}) {
	if sc := contextScope(ctx); sc != nil {
		sc.add(a, v)
		return
	}
	a.mu.Lock()
	a.value = a.merge(a.value, v)
	a.mu.Unlock()
}

// Value returns the accumulator's merged value.
func (a *Accumulator) Value() interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// A scope buffers one task attempt's accumulator additions. Scopes are
// carried through the context passed to user functions.
type scope struct {
	mu       sync.Mutex
	partials map[*Accumulator]interface{}
}

func newScope() *scope {
	return &scope{partials: make(map[*Accumulator]interface{})}
}

func (sc *scope) add(a *Accumulator, v interface{}) {
	sc.mu.Lock()
	if prev, ok := sc.partials[a]; ok {
		sc.partials[a] = a.merge(prev, v)
	} else {
		sc.partials[a] = v
	}
	sc.mu.Unlock()
}

// commit merges the scope's partials into their accumulators.
func (sc *scope) commit() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for a, v := range sc.partials {
		a.mu.Lock()
		a.value = a.merge(a.value, v)
		a.mu.Unlock()
	}
}

type scopeKey struct{}

// scopedContext returns ctx with the scope attached.
func scopedContext(ctx context.Context, sc *scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, sc)
}

// contextScope returns the scope attached to ctx, if any.
func contextScope(ctx context.Context) *scope {
	sc, _ := ctx.Value(scopeKey{}).(*scope)
	return sc
}
