// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pondworks/rivulet/ctxsync"
)

// A Worker is an in-process execution slot. Workers give tasks an
// identity for locality tracking: the store records which workers
// computed each partition, and the scheduler prefers those workers for
// downstream tasks.
type Worker struct {
	// ID identifies the worker within its session.
	ID string

	sess *Session
}

// Session returns the session the worker belongs to.
func (w *Worker) Session() *Session { return w.sess }

// A pool manages a fixed set of workers. Acquire hands out idle
// workers, honoring locality preferences for a bounded wait before
// falling back to any worker.
type pool struct {
	mu   sync.Mutex
	cond *ctxsync.Cond
	idle map[string]*Worker
}

func newPool(sess *Session, n int) *pool {
	p := &pool{idle: make(map[string]*Worker, n)}
	p.cond = ctxsync.NewCond(&p.mu)
	for i := 0; i < n; i++ {
		w := &Worker{ID: fmt.Sprintf("worker-%d", i), sess: sess}
		p.idle[w.ID] = w
	}
	return p
}

// Acquire returns an idle worker, blocking until one is available or
// the context is done. If prefer is non-empty, only preferred workers
// are accepted for up to wait; after that any worker will do. A worker
// matching avoid is chosen only when it is the sole idle worker.
func (p *pool) Acquire(ctx context.Context, prefer []string, avoid string, wait time.Duration) (*Worker, error) {
	if len(prefer) > 0 && wait > 0 {
		localCtx, cancel := context.WithTimeout(ctx, wait)
		w, err := p.acquire(localCtx, prefer, avoid)
		cancel()
		if err == nil {
			return w, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Locality wait expired; fall through to any worker.
	}
	return p.acquire(ctx, nil, avoid)
}

func (p *pool) acquire(ctx context.Context, prefer []string, avoid string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if w := p.pickLocked(prefer, avoid); w != nil {
			delete(p.idle, w.ID)
			return w, nil
		}
		if err := p.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
}

func (p *pool) pickLocked(prefer []string, avoid string) *Worker {
	if len(prefer) > 0 {
		for _, id := range prefer {
			if w, ok := p.idle[id]; ok && id != avoid {
				return w
			}
		}
		return nil
	}
	var fallback *Worker
	for id, w := range p.idle {
		if id == avoid {
			fallback = w
			continue
		}
		return w
	}
	// Either nothing is idle, or only the avoided worker is.
	return fallback
}

// Release returns a worker to the idle set.
func (p *pool) Release(w *Worker) {
	p.mu.Lock()
	p.idle[w.ID] = w
	p.cond.Broadcast()
	p.mu.Unlock()
}
