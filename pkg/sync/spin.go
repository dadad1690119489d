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

package sync

import (
	"runtime"
)

// yieldEvery is the number of failed attempts between two goroutine yields
// in a Spinner.
const yieldEvery = 64

// Goyield yields the processor, allowing other goroutines to run. The
// current goroutine is not suspended and resumes automatically.
func Goyield() {
	runtime.Gosched()
}

// Spinner paces a busy-wait loop.
//
// Simulated CPUs are goroutines multiplexed over GOMAXPROCS threads, so a
// waiter that never yields can keep the lock holder off its thread for a
// whole scheduling quantum. Spinner yields every yieldEvery attempts; the
// waiter is never suspended.
//
// The zero value is ready to use. A Spinner must not be shared between
// goroutines.
type Spinner struct {
	attempts uint64
}

// Spin records one failed attempt.
func (s *Spinner) Spin() {
	s.attempts++
	if s.attempts%yieldEvery == 0 {
		Goyield()
	}
}

// Attempts returns the number of failed attempts recorded so far.
func (s *Spinner) Attempts() uint64 {
	return s.attempts
}
