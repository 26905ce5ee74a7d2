// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCondBroadcast(t *testing.T) {
	var (
		mu    sync.Mutex
		cond  = NewCond(&mu)
		ready bool
		wg    sync.WaitGroup
	)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			for !ready {
				if err := cond.Wait(ctx); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	ready = true
	cond.Broadcast()
	mu.Unlock()
	wg.Wait()
}

func TestCondCancel(t *testing.T) {
	var (
		mu   sync.Mutex
		cond = NewCond(&mu)
	)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error)
	go func() {
		mu.Lock()
		defer mu.Unlock()
		errc <- cond.Wait(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}
