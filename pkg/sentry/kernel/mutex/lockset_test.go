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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/kmux/pkg/errors/kerr"
)

func TestLockSetAddRemove(t *testing.T) {
	var s LockSet
	for _, h := range []Handle{1, 2, 3, 2, 4} {
		if err := s.Add(h); err != nil {
			t.Fatalf("Add(%d) failed: %v", h, err)
		}
	}

	// Only the first occurrence goes, and the rest keep their order.
	if !s.Remove(2) {
		t.Fatalf("Remove(2) = false")
	}
	if diff := cmp.Diff([]Handle{1, 3, 2, 4}, s.Handles()); diff != "" {
		t.Errorf("handles after Remove(2) mismatch (-want +got):\n%s", diff)
	}
	if !s.Contains(2) {
		t.Errorf("Contains(2) = false with one reference left")
	}

	if !s.Remove(1) || !s.Remove(4) {
		t.Fatalf("Remove of the first and last handle failed")
	}
	if diff := cmp.Diff([]Handle{3, 2}, s.Handles()); diff != "" {
		t.Errorf("handles mismatch (-want +got):\n%s", diff)
	}
	if s.Remove(9) {
		t.Errorf("Remove(9) = true for an absent handle")
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestLockSetCapacity(t *testing.T) {
	var s LockSet
	for i := 0; i < LockSetCapacity; i++ {
		if err := s.Add(Handle(i + 1)); err != nil {
			t.Fatalf("Add #%d failed: %v", i+1, err)
		}
	}
	if err := s.Add(100); !errors.Is(err, kerr.ErrLockSetFull) {
		t.Errorf("Add past capacity = %v, want %v", err, kerr.ErrLockSetFull)
	}
	if s.Len() != LockSetCapacity || s.Contains(100) {
		t.Errorf("failed Add modified the set: %v", s.Handles())
	}
}

func TestLockSetHandlesIsCopy(t *testing.T) {
	var s LockSet
	s.Add(7)
	hs := s.Handles()
	hs[0] = 8
	if !s.Contains(7) || s.Contains(8) {
		t.Errorf("mutating Handles() result changed the set")
	}
}
