// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/pondworks/rivulet"
	"golang.org/x/sync/singleflight"
)

// approxRecordBytes estimates the in-memory footprint of a live
// (non-serialized) record for cache accounting.
const approxRecordBytes = 64

type storeKey struct {
	node      rivulet.NodeID
	partition int
}

func (k storeKey) String() string { return fmt.Sprintf("%s[%d]", k.node, k.partition) }

type storeEntry struct {
	key    storeKey
	policy rivulet.Policy
	// recs holds the live in-memory form; buf the encoded form.
	// Serialized policies keep only buf in memory.
	recs   []interface{}
	buf    []byte
	sum    uint64
	size   int64
	path   string
	inMem  bool
	onDisk bool
	// workers that have computed or loaded this partition; used as
	// locality hints when scheduling downstream tasks.
	workers []string
	elem    *list.Element
}

// A store holds materialized dataset partitions. In-memory entries are
// bounded by a byte budget with least-recently-used eviction; evicted
// entries whose policy uses disk are spilled to zstd-compressed files
// and reloaded on demand, while the rest are dropped and recomputed
// from lineage on the next access. A store is shared by all runs of a
// session, so persisted partitions survive across actions.
type store struct {
	dir    string
	budget int64

	mu      sync.Mutex
	entries map[storeKey]*storeEntry
	// lru orders in-memory entries, most recently used at the front.
	lru     *list.List
	memUsed int64
	nfile   int64

	// sf collapses concurrent materializations of the same partition
	// so each is computed at most once at a time.
	sf singleflight.Group
}

func newStore(dir string, budget int64) *store {
	return &store{
		dir:     dir,
		budget:  budget,
		entries: make(map[storeKey]*storeEntry),
		lru:     list.New(),
	}
}

// Has reports whether the partition is materialized in memory or on
// disk.
func (s *store) Has(key storeKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	return e != nil && (e.inMem || e.onDisk)
}

// Locations returns the workers known to hold the partition.
func (s *store) Locations(key storeKey) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil {
		return nil
	}
	workers := make([]string, len(e.workers))
	copy(workers, e.workers)
	return workers
}

// Put materializes a computed partition under the given policy,
// replacing any previous materialization. The worker is recorded as a
// location hint. Policies without a disk tier never touch disk; a
// policy of None still enters the memory tier so that downstream
// stages of the same run can read it, but it is the first to go under
// memory pressure and is never spilled.
func (s *store) Put(key storeKey, recs []interface{}, policy rivulet.Policy, worker string) error {
	e := &storeEntry{key: key, policy: policy}
	s.addWorkerLocked(e, worker)
	if policy.IsSerialized() || policy.UsesDisk() {
		buf, sum, err := encodeRecords(recs)
		if err != nil {
			return err
		}
		e.buf, e.sum = buf, sum
	}
	if policy.IsSerialized() {
		e.size = int64(len(e.buf))
	} else {
		e.recs = recs
		e.size = int64(len(recs)+1) * approxRecordBytes
	}
	if policy.Level() == rivulet.Disk {
		// Disk-only: write through and keep nothing in memory.
		if err := s.spill(e); err != nil {
			return err
		}
		e.buf, e.recs = nil, nil
	} else {
		e.inMem = true
	}
	s.mu.Lock()
	if old := s.entries[key]; old != nil {
		s.dropLocked(old)
	}
	s.entries[key] = e
	if e.inMem {
		e.elem = s.lru.PushFront(e)
		s.memUsed += e.size
		s.evictLocked()
	}
	s.mu.Unlock()
	return nil
}

// Fetch returns the records of a partition, materializing them via
// compute on a miss and storing the result under policy. Concurrent
// fetches of the same partition share one computation.
func (s *store) Fetch(ctx context.Context, key storeKey, policy rivulet.Policy, worker string, compute func(ctx context.Context) ([]interface{}, error)) ([]interface{}, error) {
	v, err, _ := s.sf.Do(key.String(), func() (interface{}, error) {
		if recs, ok, err := s.get(key, worker); err != nil {
			return nil, err
		} else if ok {
			return recs, nil
		}
		recs, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Put(key, recs, policy, worker); err != nil {
			return nil, err
		}
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]interface{}), nil
}

// get returns the partition's records from memory or disk. An
// unreadable or corrupt disk entry is dropped and treated as a miss so
// the caller recomputes it from lineage.
func (s *store) get(key storeKey, worker string) ([]interface{}, bool, error) {
	s.mu.Lock()
	e := s.entries[key]
	if e == nil || (!e.inMem && !e.onDisk) {
		s.mu.Unlock()
		return nil, false, nil
	}
	if e.inMem {
		recs, buf, sum := e.recs, e.buf, e.sum
		serialized := e.policy.IsSerialized()
		s.lru.MoveToFront(e.elem)
		s.addWorkerLocked(e, worker)
		s.mu.Unlock()
		// Live entries are returned as held, even when empty; only
		// serialized policies keep the encoded form.
		if !serialized {
			return recs, true, nil
		}
		recs, err := decodeRecords(buf, sum)
		if err != nil {
			return nil, false, err
		}
		return recs, true, nil
	}
	path, sum := e.path, e.sum
	s.mu.Unlock()

	buf, err := readSpill(path)
	var recs []interface{}
	if err == nil {
		recs, err = decodeRecords(buf, sum)
	}
	if err != nil {
		log.Error.Printf("store %s: unreadable disk entry, recomputing: %v", key, err)
		s.Drop(key)
		return nil, false, nil
	}

	s.mu.Lock()
	if e := s.entries[key]; e != nil {
		s.addWorkerLocked(e, worker)
		// Promote back into the memory tier for policies that use it.
		if !e.inMem && e.policy.UsesMemory() {
			if e.policy.IsSerialized() {
				e.buf = buf
			} else {
				e.recs = recs
			}
			e.inMem = true
			e.elem = s.lru.PushFront(e)
			s.memUsed += e.size
			s.evictLocked()
		}
	}
	s.mu.Unlock()
	return recs, true, nil
}

// addWorkerLocked records a location hint. Driver-side reads carry no
// worker identity and are not recorded.
func (s *store) addWorkerLocked(e *storeEntry, worker string) {
	if worker == "" {
		return
	}
	for _, w := range e.workers {
		if w == worker {
			return
		}
	}
	e.workers = append(e.workers, worker)
}

// evictLocked trims the memory tier to budget, spilling entries whose
// policy has a disk tier and dropping the rest.
func (s *store) evictLocked() {
	for s.memUsed > s.budget && s.lru.Len() > 1 {
		e := s.lru.Remove(s.lru.Back()).(*storeEntry)
		s.memUsed -= e.size
		e.elem = nil
		e.inMem = false
		if e.policy.UsesDisk() && !e.onDisk {
			if err := s.spill(e); err != nil {
				log.Error.Printf("store %s: spill failed, dropping: %v", e.key, err)
				delete(s.entries, e.key)
			}
		} else if !e.onDisk {
			delete(s.entries, e.key)
		}
		e.recs, e.buf = nil, nil
	}
}

// spill writes the entry's encoded form to disk and marks it resident
// there. Called with or without s.mu held; it touches only e and the
// file counter.
func (s *store) spill(e *storeEntry) error {
	buf := e.buf
	if buf == nil {
		var err error
		buf, e.sum, err = encodeRecords(e.recs)
		if err != nil {
			return err
		}
	}
	if e.path == "" {
		e.path = filepath.Join(s.dir, fmt.Sprintf("part-%06d", atomic.AddInt64(&s.nfile, 1)))
	}
	if err := writeSpill(e.path, buf); err != nil {
		return err
	}
	e.onDisk = true
	return nil
}

// Drop removes a single partition from all tiers.
func (s *store) Drop(key storeKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entries[key]; e != nil {
		s.dropLocked(e)
		delete(s.entries, key)
	}
}

// DropTransient removes all entries held under policy None. It is
// invoked at the end of each action so unpersisted intermediates do
// not linger as an implicit cache.
func (s *store) DropTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if e.policy.Level() != rivulet.None {
			continue
		}
		s.dropLocked(e)
		delete(s.entries, key)
	}
}

// DropNode removes all partitions of a node, for Unpersist and
// Release.
func (s *store) DropNode(node rivulet.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if key.node != node {
			continue
		}
		s.dropLocked(e)
		delete(s.entries, key)
	}
}

func (s *store) dropLocked(e *storeEntry) {
	if e.elem != nil {
		s.lru.Remove(e.elem)
		s.memUsed -= e.size
		e.elem = nil
	}
	e.inMem = false
	if e.path != "" {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("store %s: remove spill %s: %v", e.key, e.path, err)
		}
		e.path = ""
		e.onDisk = false
	}
	e.recs, e.buf = nil, nil
}
