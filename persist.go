// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

// Policy describes where (and whether) a dataset's materialized
// partitions are cached.
type Policy int

const (
	// None disables caching; partitions are recomputed on every access.
	None Policy = iota
	// Memory caches partitions in memory; evicted partitions are
	// recomputed via lineage.
	Memory
	// Disk caches partitions on local disk only.
	Disk
	// MemoryAndDisk caches partitions in memory and spills them to
	// disk on eviction instead of dropping them.
	MemoryAndDisk

	// Serialized may be ORed into any caching policy to store the
	// in-memory form gob-encoded rather than as live records.
	Serialized Policy = 1 << 3
)

// Level returns the policy without the Serialized flag.
func (p Policy) Level() Policy { return p &^ Serialized }

// IsSerialized reports whether in-memory entries are stored encoded.
func (p Policy) IsSerialized() bool { return p&Serialized != 0 }

// UsesMemory reports whether the policy caches in memory.
func (p Policy) UsesMemory() bool {
	l := p.Level()
	return l == Memory || l == MemoryAndDisk
}

// UsesDisk reports whether the policy caches on disk.
func (p Policy) UsesDisk() bool {
	l := p.Level()
	return l == Disk || l == MemoryAndDisk
}

func (p Policy) String() string {
	var s string
	switch p.Level() {
	case None:
		s = "none"
	case Memory:
		s = "memory"
	case Disk:
		s = "disk"
	case MemoryAndDisk:
		s = "memory-and-disk"
	default:
		return "invalid"
	}
	if p.IsSerialized() {
		s += "-ser"
	}
	return s
}

// Persist marks the dataset for caching under the given policy. It is
// non-blocking: the mark takes effect the next time the dataset's
// partitions are materialized. Persist returns its receiver for
// chaining.
func (d Dataset) Persist(p Policy) Dataset {
	d.g.mu.Lock()
	d.g.policies[d.id] = p
	d.g.mu.Unlock()
	return d
}

// Unpersist reverts the dataset's policy to None and immediately
// evicts any cached partitions. Unpersisting a dataset with nothing
// cached is a no-op.
func (d Dataset) Unpersist() Dataset {
	d.g.mu.Lock()
	delete(d.g.policies, d.id)
	subs := d.g.unpersist
	d.g.mu.Unlock()
	for _, fn := range subs {
		fn(d.id)
	}
	return d
}

// Policy returns the dataset's current persistence policy.
func (d Dataset) Policy() Policy {
	d.g.mu.Lock()
	p := d.g.policies[d.id]
	d.g.mu.Unlock()
	return p
}
