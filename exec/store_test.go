// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"io/ioutil"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pondworks/rivulet"
)

func testStore(t *testing.T, budget int64) *store {
	t.Helper()
	dir, err := ioutil.TempDir("", "rivulet-store-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return newStore(dir, budget)
}

func storeKeyOf(i int) storeKey {
	return storeKey{node: rivulet.NodeID("node"), partition: i}
}

func TestStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	recs := recordsOf(1, 2, 3)
	for _, policy := range []rivulet.Policy{
		rivulet.None,
		rivulet.Memory,
		rivulet.Memory | rivulet.Serialized,
		rivulet.Disk,
		rivulet.MemoryAndDisk,
	} {
		s := testStore(t, 1<<20)
		if err := s.Put(storeKeyOf(0), recs, policy, "w0"); err != nil {
			t.Fatalf("%v: %v", policy, err)
		}
		if !s.Has(storeKeyOf(0)) {
			t.Fatalf("%v: entry missing", policy)
		}
		got, err := s.Fetch(ctx, storeKeyOf(0), policy, "w1", func(ctx context.Context) ([]interface{}, error) {
			t.Fatalf("%v: unexpected recompute", policy)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("%v: %v", policy, err)
		}
		if !reflect.DeepEqual(got, recs) {
			t.Errorf("%v: got %v, want %v", policy, got, recs)
		}
	}
}

func TestStoreEmptyPartition(t *testing.T) {
	ctx := context.Background()
	for _, policy := range []rivulet.Policy{
		rivulet.None,
		rivulet.Memory,
		rivulet.Memory | rivulet.Serialized,
		rivulet.Disk,
		rivulet.MemoryAndDisk,
	} {
		s := testStore(t, 1<<20)
		if err := s.Put(storeKeyOf(0), nil, policy, "w0"); err != nil {
			t.Fatalf("%v: %v", policy, err)
		}
		if !s.Has(storeKeyOf(0)) {
			t.Fatalf("%v: empty entry missing", policy)
		}
		got, err := s.Fetch(ctx, storeKeyOf(0), policy, "w0", func(ctx context.Context) ([]interface{}, error) {
			t.Fatalf("%v: unexpected recompute", policy)
			return nil, nil
		})
		if err != nil {
			t.Fatalf("%v: %v", policy, err)
		}
		if len(got) != 0 {
			t.Errorf("%v: got %v, want no records", policy, got)
		}
	}
}

func TestStoreComputesOnMiss(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, 1<<20)
	var computes int64
	compute := func(ctx context.Context) ([]interface{}, error) {
		atomic.AddInt64(&computes, 1)
		return recordsOf(42), nil
	}
	for i := 0; i < 3; i++ {
		got, err := s.Fetch(ctx, storeKeyOf(0), rivulet.Memory, "w0", compute)
		if err != nil {
			t.Fatal(err)
		}
		if want := recordsOf(42); !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	}
	if got, want := atomic.LoadInt64(&computes), int64(1); got != want {
		t.Errorf("got %d computes, want %d", got, want)
	}
}

func TestStoreSingleflight(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, 1<<20)
	var (
		computes int64
		begin    = make(chan struct{})
		wg       sync.WaitGroup
	)
	compute := func(ctx context.Context) ([]interface{}, error) {
		atomic.AddInt64(&computes, 1)
		return recordsOf(7), nil
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-begin
			if _, err := s.Fetch(ctx, storeKeyOf(0), rivulet.Memory, "w0", compute); err != nil {
				t.Error(err)
			}
		}()
	}
	close(begin)
	wg.Wait()
	// Concurrent fetches collapse; later fetches hit the cache. Either
	// way the computation must not run once per fetch.
	if got := atomic.LoadInt64(&computes); got > 2 {
		t.Errorf("got %d computes, want at most 2", got)
	}
}

func TestStoreEviction(t *testing.T) {
	ctx := context.Background()
	// Budget fits roughly one entry.
	s := testStore(t, 3*approxRecordBytes)
	var computes int64
	compute := func(ctx context.Context) ([]interface{}, error) {
		atomic.AddInt64(&computes, 1)
		return recordsOf(1, 2, 3, 4), nil
	}
	if _, err := s.Fetch(ctx, storeKeyOf(0), rivulet.None, "w0", compute); err != nil {
		t.Fatal(err)
	}
	// A second entry forces the first one out.
	if err := s.Put(storeKeyOf(1), recordsOf(9, 9, 9, 9), rivulet.None, "w0"); err != nil {
		t.Fatal(err)
	}
	if s.Has(storeKeyOf(0)) {
		t.Error("expected entry 0 evicted")
	}
	if _, err := s.Fetch(ctx, storeKeyOf(0), rivulet.None, "w0", compute); err != nil {
		t.Fatal(err)
	}
	if got, want := atomic.LoadInt64(&computes), int64(2); got != want {
		t.Errorf("got %d computes, want %d", got, want)
	}
}

func TestStoreSpillAndReload(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, 3*approxRecordBytes)
	recs := recordsOf(1, 2, 3, 4)
	if err := s.Put(storeKeyOf(0), recs, rivulet.MemoryAndDisk, "w0"); err != nil {
		t.Fatal(err)
	}
	// Evict to disk.
	if err := s.Put(storeKeyOf(1), recordsOf(5, 6, 7, 8), rivulet.None, "w0"); err != nil {
		t.Fatal(err)
	}
	if !s.Has(storeKeyOf(0)) {
		t.Fatal("spilled entry should remain available")
	}
	got, err := s.Fetch(ctx, storeKeyOf(0), rivulet.MemoryAndDisk, "w1", func(ctx context.Context) ([]interface{}, error) {
		t.Fatal("unexpected recompute")
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, recs) {
		t.Errorf("got %v, want %v", got, recs)
	}
}

func TestStoreLocations(t *testing.T) {
	ctx := context.Background()
	s := testStore(t, 1<<20)
	if err := s.Put(storeKeyOf(0), recordsOf(1), rivulet.Memory, "w0"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fetch(ctx, storeKeyOf(0), rivulet.Memory, "w1", nil); err != nil {
		t.Fatal(err)
	}
	got := s.Locations(storeKeyOf(0))
	if want := []string{"w0", "w1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Driver-side reads carry no worker identity and must not pollute
	// the locality hints.
	if _, err := s.Fetch(ctx, storeKeyOf(0), rivulet.Memory, "", nil); err != nil {
		t.Fatal(err)
	}
	got = s.Locations(storeKeyOf(0))
	if want := []string{"w0", "w1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStoreDropNode(t *testing.T) {
	s := testStore(t, 1<<20)
	for i := 0; i < 3; i++ {
		if err := s.Put(storeKeyOf(i), recordsOf(i), rivulet.MemoryAndDisk, "w0"); err != nil {
			t.Fatal(err)
		}
	}
	other := storeKey{node: rivulet.NodeID("other"), partition: 0}
	if err := s.Put(other, recordsOf(9), rivulet.Memory, "w0"); err != nil {
		t.Fatal(err)
	}
	s.DropNode(rivulet.NodeID("node"))
	for i := 0; i < 3; i++ {
		if s.Has(storeKeyOf(i)) {
			t.Errorf("entry %d survived drop", i)
		}
	}
	if !s.Has(other) {
		t.Error("unrelated entry dropped")
	}
}
