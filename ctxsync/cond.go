// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides synchronization primitives that respect
// context cancellation.
package ctxsync

import (
	"context"
	"sync"
)

// A Cond is a condition variable whose Wait is interruptible by
// context cancellation. Like sync.Cond, it must be associated with a
// Locker guarding the condition, held when calling Wait or Broadcast.
type Cond struct {
	l    sync.Locker
	wait chan struct{}
}

// NewCond returns a condition variable associated with locker l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{l: l}
}

// Broadcast wakes all goroutines blocked in Wait. The caller must hold
// the Cond's lock.
func (c *Cond) Broadcast() {
	if c.wait != nil {
		close(c.wait)
		c.wait = nil
	}
}

// Wait unlocks the Cond's lock, blocks until Broadcast is called or
// the context is done, then relocks before returning. A non-nil error
// is returned exactly when the wait was abandoned because of the
// context; the condition must then be considered unmet.
func (c *Cond) Wait(ctx context.Context) error {
	if c.wait == nil {
		c.wait = make(chan struct{})
	}
	wait := c.wait
	c.l.Unlock()
	var err error
	select {
	case <-wait:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.l.Lock()
	return err
}
