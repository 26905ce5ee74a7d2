// Copyright 2026 Pondworks, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/google/uuid"
)

// A Broadcast is an immutable value registered with a session and
// shared read-only by all tasks. The value must not be mutated after
// registration.
type Broadcast struct {
	id    string
	value interface{}
}

// Broadcast registers v as a shared read-only value and returns its
// handle.
func (s *Session) Broadcast(v interface{}) *Broadcast {
	b := &Broadcast{id: uuid.NewString(), value: v}
	s.mu.Lock()
	s.broadcasts[b.id] = b
	s.mu.Unlock()
	return b
}

// ID returns the broadcast's registry identifier.
func (b *Broadcast) ID() string { return b.id }

// Value returns the broadcast value.
func (b *Broadcast) Value() interface{} { return b.value }

// BroadcastValue looks a broadcast value up by identifier.
func (s *Session) BroadcastValue(id string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, false
	}
	return b.value, true
}

// Unbroadcast removes a broadcast value from the registry, allowing it
// to be collected.
func (s *Session) Unbroadcast(b *Broadcast) {
	s.mu.Lock()
	delete(s.broadcasts, b.id)
	s.mu.Unlock()
}
