// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rivulet

import "fmt"

// A GraphError describes an invalid dataset graph construction, for
// example a transformation applied with a malformed function or an
// invalid partition count. GraphErrors are surfaced immediately at
// graph-build time by panicking from the offending constructor; they
// are never deferred to execution.
type GraphError struct {
	// Op names the operation whose construction failed.
	Op OpKind
	// Reason describes the failure.
	Reason string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("rivulet.%s: %s", e.Op, e.Reason)
}

// A SchemaError indicates that a key-based operation required
// partitioner alignment between its operands but their partitioners
// are incompatible; the data must first be repartitioned. Like
// GraphError, it is surfaced at graph-build time.
type SchemaError struct {
	Op     OpKind
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("rivulet.%s: %s", e.Op, e.Reason)
}

func graphPanicf(op OpKind, format string, args ...interface{}) {
	panic(&GraphError{Op: op, Reason: fmt.Sprintf(format, args...)})
}

func schemaPanicf(op OpKind, format string, args ...interface{}) {
	panic(&SchemaError{Op: op, Reason: fmt.Sprintf(format, args...)})
}
