// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import "time"

// Config carries the engine's tuning surface. It is consumed by the
// execution layer; zero values select defaults.
type Config struct {
	// MaxTaskRetries is the number of fresh attempts given to a failed
	// task before its action fails.
	MaxTaskRetries int
	// DefaultParallelism is the number of concurrently executing
	// tasks (and in-process workers).
	DefaultParallelism int
	// CacheBudget is the partition store's memory budget, in bytes.
	// Least-recently-used partitions are evicted beyond it.
	CacheBudget int64
	// LocalityWait bounds how long the scheduler waits for a worker
	// that holds a task's input partitions before falling back to any
	// worker.
	LocalityWait time.Duration
}

// Defaults used when Config fields are zero.
const (
	DefaultMaxTaskRetries = 3
	DefaultCacheBudget    = 512 << 20
	DefaultLocalityWait   = 100 * time.Millisecond
)

// WithDefaults returns c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.MaxTaskRetries == 0 {
		c.MaxTaskRetries = DefaultMaxTaskRetries
	}
	if c.DefaultParallelism == 0 {
		c.DefaultParallelism = 1
	}
	if c.CacheBudget == 0 {
		c.CacheBudget = DefaultCacheBudget
	}
	if c.LocalityWait == 0 {
		c.LocalityWait = DefaultLocalityWait
	}
	return c
}
