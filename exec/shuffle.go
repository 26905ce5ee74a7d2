// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/pondworks/rivulet/stream"
)

// spillThreshold is the encoded size beyond which a shuffle blob is
// written to disk instead of held in memory.
const spillThreshold = 1 << 20

// An IntegrityError reports that a shuffle blob failed its checksum
// when read. The scheduler reacts by re-running the producing shuffle
// write and retrying the consumer.
type IntegrityError struct {
	// Shuffle identifies the shuffle.
	Shuffle string
	// Source and Dest are the blob's source and destination partitions.
	Source, Dest int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("shuffle %s: blob %d->%d failed checksum", e.Shuffle, e.Source, e.Dest)
}

type shuffleKey struct {
	id       string
	src, dst int
}

type shuffleBlob struct {
	buf  []byte // nil when spilled
	sum  uint64
	path string // non-empty when spilled
	size int
}

// A shuffler stores the intermediate blobs exchanged between wide
// stages. Each blob holds the gob-encoded records flowing from one
// source partition to one destination partition, checksummed with
// xxhash; blobs beyond spillThreshold are spilled to zstd-compressed
// files under dir.
type shuffler struct {
	dir string

	mu    sync.Mutex
	blobs map[shuffleKey]*shuffleBlob
	nfile int
}

func newShuffler(dir string) *shuffler {
	return &shuffler{dir: dir, blobs: make(map[shuffleKey]*shuffleBlob)}
}

// Write stores the blobs for one source partition of a shuffle:
// parts[d] holds the records destined to partition d. Rewriting a
// (shuffle, source) pair replaces its previous blobs.
func (s *shuffler) Write(id string, src int, parts [][]interface{}) error {
	for dst, recs := range parts {
		buf, sum, err := encodeRecords(recs)
		if err != nil {
			return err
		}
		blob := &shuffleBlob{sum: sum, size: len(buf)}
		if len(buf) > spillThreshold {
			s.mu.Lock()
			s.nfile++
			blob.path = filepath.Join(s.dir, fmt.Sprintf("shuffle-%06d", s.nfile))
			s.mu.Unlock()
			if err := writeSpill(blob.path, buf); err != nil {
				return err
			}
		} else {
			blob.buf = buf
		}
		s.mu.Lock()
		if old := s.blobs[shuffleKey{id, src, dst}]; old != nil && old.path != "" {
			if err := os.Remove(old.path); err != nil {
				log.Error.Printf("shuffle %s: remove stale spill %s: %v", id, old.path, err)
			}
		}
		s.blobs[shuffleKey{id, src, dst}] = blob
		s.mu.Unlock()
	}
	return nil
}

// OpenReader returns a reader over all records destined to partition
// dst of the identified shuffle, concatenating the blobs of the nsrc
// source partitions in source order.
func (s *shuffler) OpenReader(id string, dst, nsrc int) stream.Reader {
	readers := make([]stream.Reader, nsrc)
	for src := 0; src < nsrc; src++ {
		readers[src] = &blobReader{shuffler: s, key: shuffleKey{id, src, dst}}
	}
	return stream.MultiReader(readers...)
}

// load returns the decoded records of one blob, verifying checksums.
func (s *shuffler) load(key shuffleKey) ([]interface{}, error) {
	s.mu.Lock()
	blob := s.blobs[key]
	s.mu.Unlock()
	if blob == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("shuffle %s: no blob %d->%d", key.id, key.src, key.dst))
	}
	buf := blob.buf
	if buf == nil {
		var err error
		buf, err = readSpill(blob.path)
		if err != nil {
			if errors.Is(errors.Integrity, err) {
				return nil, &IntegrityError{Shuffle: key.id, Source: key.src, Dest: key.dst}
			}
			return nil, err
		}
	}
	if xxhash.Sum64(buf) != blob.sum {
		return nil, &IntegrityError{Shuffle: key.id, Source: key.src, Dest: key.dst}
	}
	recs, err := decodeRecords(buf, blob.sum)
	if err != nil {
		if errors.Is(errors.Integrity, err) {
			return nil, &IntegrityError{Shuffle: key.id, Source: key.src, Dest: key.dst}
		}
		return nil, err
	}
	return recs, nil
}

// corrupt flips a byte of the identified blob. It exists for integrity
// testing.
func (s *shuffler) corrupt(key shuffleKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob := s.blobs[key]
	if blob == nil || len(blob.buf) == 0 {
		return
	}
	buf := make([]byte, len(blob.buf))
	copy(buf, blob.buf)
	buf[len(buf)/2] ^= 0xff
	blob.buf = buf
}

// Drop removes all blobs of the identified shuffle, deleting any spill
// files.
func (s *shuffler) Drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, blob := range s.blobs {
		if key.id != id {
			continue
		}
		if blob.path != "" {
			if err := os.Remove(blob.path); err != nil {
				log.Error.Printf("shuffle %s: remove spill %s: %v", id, blob.path, err)
			}
		}
		delete(s.blobs, key)
	}
}

type blobReader struct {
	shuffler *shuffler
	key      shuffleKey
	reader   stream.Reader
	err      error
}

func (b *blobReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if b.reader == nil {
		recs, err := b.shuffler.load(b.key)
		if err != nil {
			b.err = err
			return 0, err
		}
		b.reader = stream.SliceReader(recs)
	}
	return b.reader.Read(ctx, out)
}
