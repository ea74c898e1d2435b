// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import (
	"sync"

	"github.com/grailbio/base/must"
)

// A Slot holds the published result of a reduction pass. A slot is
// written at most once per pass; Reset rearms it for the next pass.
type Slot struct {
	mu  sync.Mutex
	val interface{}
	set bool
}

// Set publishes v. Set panics if the slot was already set since the
// last Reset.
func (s *Slot) Set(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	must.True(!s.set, "reduce.Slot: set twice in one pass")
	s.val, s.set = v, true
}

// Get returns the published value, and whether one was published.
func (s *Slot) Get() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, s.set
}

// Reset clears the slot.
func (s *Slot) Reset() {
	s.mu.Lock()
	s.val, s.set = nil, false
	s.mu.Unlock()
}
