// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stream provides utilities for managing streams of dynamically
// typed records as they flow between rivulet operations. Readers produce
// records in batches; the sentinel error EOF signals a graceful end of
// output.
package stream

import (
	"context"

	"github.com/grailbio/base/errors"
)

// DefaultChunksize is the default size used for record batches within
// the stream package.
const DefaultChunksize = 1024

// EOF is the error returned by Reader.Read when no more records are
// available. EOF is intended as a sentinel error: it signals a graceful
// end of output. If output terminates unexpectedly, a different error
// should be returned.
var EOF = errors.New("EOF")

// A Reader represents a stateful stream of records. Each call to Read
// reads the next batch of available records.
type Reader interface {
	// Read reads up to len(out) records into out, returning the number
	// of records read, or an error. When no more records are available,
	// Read returns EOF. Read may return EOF when n > 0: in this case, n
	// records were read, but no more are available.
	//
	// Read should not be called concurrently.
	Read(ctx context.Context, out []interface{}) (int, error)
}

type sliceReader struct {
	records []interface{}
}

// SliceReader returns a Reader that reads the provided records to
// completion.
func SliceReader(records []interface{}) Reader {
	return &sliceReader{records}
}

func (s *sliceReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := copy(out, s.records)
	s.records = s.records[n:]
	if len(s.records) == 0 {
		return n, EOF
	}
	return n, nil
}

type multiReader struct {
	q   []Reader
	err error
}

// MultiReader returns a Reader that's the logical concatenation of the
// provided input readers. Once every underlying Reader has returned
// EOF, Read will return EOF, too. Non-EOF errors are returned
// immediately.
func MultiReader(readers ...Reader) Reader {
	return &multiReader{q: readers}
}

func (m *multiReader) Read(ctx context.Context, out []interface{}) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	for len(m.q) > 0 {
		n, err := m.q[0].Read(ctx, out)
		switch {
		case err == EOF:
			m.q = m.q[1:]
			if n > 0 {
				return n, nil
			}
		case err != nil:
			m.err = err
			return n, err
		case n > 0:
			return n, nil
		}
	}
	return 0, EOF
}

// An errReader is a reader that only returns errors.
type errReader struct{ Err error }

// ErrReader returns a reader that returns the provided error on every
// call to Read. ErrReader panics if err is nil.
func ErrReader(err error) Reader {
	if err == nil {
		panic("stream.ErrReader: nil error")
	}
	return &errReader{err}
}

func (e *errReader) Read(ctx context.Context, out []interface{}) (int, error) {
	return 0, e.Err
}

// Empty is a Reader that returns EOF immediately.
type Empty struct{}

func (Empty) Read(ctx context.Context, out []interface{}) (int, error) {
	return 0, EOF
}

// ReadAll reads records from r until EOF, returning all records read.
// ReadAll is not tuned for performance; it is intended for driver-side
// aggregation and testing.
func ReadAll(ctx context.Context, r Reader) ([]interface{}, error) {
	var (
		all []interface{}
		buf = make([]interface{}, DefaultChunksize)
	)
	for {
		n, err := r.Read(ctx, buf)
		all = append(all, buf[:n]...)
		if err == EOF {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
