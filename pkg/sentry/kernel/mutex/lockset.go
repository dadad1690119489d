// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mutex

import (
	"gvisor.dev/kmux/pkg/errors/kerr"
)

// LockSet is the ordered list of handles a task holds create references to.
// A handle appears once per outstanding reference.
//
// A LockSet has no lock of its own. It is only mutated by the Registry,
// on its owner's behalf, with the table lock held.
type LockSet struct {
	handles [LockSetCapacity]Handle
	n       int
}

// Add appends h.
func (s *LockSet) Add(h Handle) error {
	if s.n == LockSetCapacity {
		return kerr.ErrLockSetFull
	}
	s.handles[s.n] = h
	s.n++
	return nil
}

// Remove removes the first occurrence of h, shifting later handles down so
// their order is preserved. It returns false if h is not present.
func (s *LockSet) Remove(h Handle) bool {
	i := s.index(h)
	if i < 0 {
		return false
	}
	copy(s.handles[i:s.n], s.handles[i+1:s.n])
	s.n--
	s.handles[s.n] = 0
	return true
}

// Contains returns true if h is present.
func (s *LockSet) Contains(h Handle) bool {
	return s.index(h) >= 0
}

func (s *LockSet) index(h Handle) int {
	for i := 0; i < s.n; i++ {
		if s.handles[i] == h {
			return i
		}
	}
	return -1
}

// Len returns the number of references held.
func (s *LockSet) Len() int {
	return s.n
}

// Handles returns a copy of the handles, in insertion order.
func (s *LockSet) Handles() []Handle {
	return append([]Handle(nil), s.handles[:s.n]...)
}
