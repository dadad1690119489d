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

// Package spinlock provides mutual exclusion spin locks for the simulated
// CPUs in package cpu.
//
// A SpinLock disables interrupts on the acquiring CPU for as long as it is
// held, so an interrupt handler on the same CPU can never spin on a lock its
// own CPU holds. Holding a lock for a long time may cause other CPUs to waste
// time spinning to acquire it.
package spinlock

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/cpu"
	"gvisor.dev/kmux/pkg/sync"
)

// maxPCs is the depth of the call stack recorded at acquisition.
const maxPCs = 10

// SpinLock is a mutual exclusion spin lock.
//
// The zero value is an unlocked, unnamed lock.
type SpinLock struct {
	_ sync.NoCopy

	// locked is 1 while the lock is held. It is only mutated with Swap.
	locked atomicbitops.Uint32

	// name is for debugging.
	name string

	// owner is the CPU holding the lock. It is only meaningful while
	// locked is set and is cleared before locked is. Holding may run on any
	// CPU, so it is accessed atomically.
	owner atomic.Pointer[cpu.CPU]

	// pcs is the call stack that locked the lock. It is written only by
	// the holder.
	pcs [maxPCs]uintptr
}

// Init resets the lock and sets its debug name.
func (l *SpinLock) Init(name string) {
	l.name = name
	l.owner.Store(nil)
	l.pcs = [maxPCs]uintptr{}
	l.locked.Store(0)
}

// Name returns the debug name.
func (l *SpinLock) Name() string {
	return l.name
}

// Acquire acquires the lock, spinning until it is available.
//
// Interrupts on c stay disabled until the matching Release. Acquire panics
// if c already holds l.
func (l *SpinLock) Acquire(c *cpu.CPU) {
	c.PushOff()
	if l.Holding(c) {
		panic(fmt.Sprintf("acquire %s: already held by %v", l.name, c))
	}

	// The exchange is atomic and sequentially consistent, so no load or
	// store of the critical section can move before it.
	var s sync.Spinner
	for l.locked.Swap(1) != 0 {
		s.Spin()
	}
	l.recordOwner(c)
}

// TryAcquire makes a single attempt to acquire the lock. On failure the
// interrupt state of c is restored.
func (l *SpinLock) TryAcquire(c *cpu.CPU) bool {
	c.PushOff()
	if l.Holding(c) {
		panic(fmt.Sprintf("acquire %s: already held by %v", l.name, c))
	}
	if l.locked.Swap(1) != 0 {
		c.PopOff()
		return false
	}
	l.recordOwner(c)
	return true
}

// recordOwner records debugging information about the acquisition.
//
// Preconditions: l is locked by c.
func (l *SpinLock) recordOwner(c *cpu.CPU) {
	l.owner.Store(c)
	n := runtime.Callers(3, l.pcs[:])
	for i := n; i < maxPCs; i++ {
		l.pcs[i] = 0
	}
}

// Release releases the lock and re-enables interrupts on c if this was the
// outermost lock c held. It panics if c does not hold l.
func (l *SpinLock) Release(c *cpu.CPU) {
	if !l.Holding(c) {
		panic(fmt.Sprintf("release %s: not held by %v", l.name, c))
	}

	l.pcs = [maxPCs]uintptr{}
	l.owner.Store(nil)

	// Swap rather than a plain store: every write in the critical section
	// is visible to the next CPU whose Swap observes 0.
	l.locked.Swap(0)

	c.PopOff()
}

// Holding reports whether c holds l. It never blocks.
func (l *SpinLock) Holding(c *cpu.CPU) bool {
	return l.locked.Load() != 0 && l.owner.Load() == c
}

// Owner returns the CPU holding l, or nil.
func (l *SpinLock) Owner() *cpu.CPU {
	if l.locked.Load() == 0 {
		return nil
	}
	return l.owner.Load()
}

// CallerPCs returns the return addresses recorded by the last acquisition.
// It must only be called by the holder.
func (l *SpinLock) CallerPCs() []uintptr {
	var pcs []uintptr
	for _, pc := range l.pcs {
		if pc == 0 {
			break
		}
		pcs = append(pcs, pc)
	}
	return pcs
}

// String implements fmt.Stringer.
func (l *SpinLock) String() string {
	if owner := l.Owner(); owner != nil {
		return fmt.Sprintf("spinlock %s (held by %v)", l.name, owner)
	}
	return fmt.Sprintf("spinlock %s (free)", l.name)
}
