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
	"fmt"
	"math"
	"time"

	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/cleanup"
	"gvisor.dev/kmux/pkg/errors/kerr"
	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/refs"
	"gvisor.dev/kmux/pkg/spinlock"
)

// warningLog limits how often exhaustion and contention are reported.
var warningLog = log.BasicRateLimitedLogger(time.Second)

// Registry is the fixed-capacity table of named mutexes.
//
// A Registry must be initialized exactly once, with Init or NewRegistry,
// before use.
type Registry struct {
	initialized atomicbitops.Bool

	// tableLock protects the name, status and refs of every slot, handle
	// writes, and the lock sets of the calling tasks.
	tableLock spinlock.SpinLock

	// table is protected by tableLock, except where Mutex says otherwise.
	table [Capacity]Mutex

	// lastHandle is the last handle issued. Handles are never reissued.
	lastHandle atomicbitops.Int64

	// live is the number of in-use slots.
	live atomicbitops.Int32

	// policy is immutable after Init.
	policy Policy
}

// NewRegistry returns an initialized Registry.
func NewRegistry(opts Options) *Registry {
	r := &Registry{}
	r.Init(opts)
	return r
}

// Init sets up an empty table with the handle issuer at 1. It panics if
// called more than once.
func (r *Registry) Init(opts Options) {
	if r.initialized.Swap(true) {
		panic("mutex registry initialized twice")
	}
	r.tableLock.Init("mutex table")
	r.policy = opts.Policy
	for i := range r.table {
		r.table[i].logRefs = opts.LogRefs
	}
	r.lastHandle.Store(0)
	r.live.Store(0)
}

func (r *Registry) checkInitialized() {
	if !r.initialized.Load() {
		panic("mutex registry used before Init")
	}
}

// Policy returns the delete violation policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

func validateName(name string) error {
	switch {
	case len(name) == 0:
		return kerr.ErrInvalidName
	case len(name) > MaxNameLen:
		return kerr.ErrNameTooLong
	}
	return nil
}

// Create returns the handle of the mutex called name, creating it if no
// live mutex has that name, and records the reference in ctx's lock set.
//
// Create either succeeds completely or leaves the table and the lock set
// unchanged.
func (r *Registry) Create(ctx Context, name string) (Handle, error) {
	r.checkInitialized()
	if err := validateName(name); err != nil {
		createsMetric.Increment(createInvalidName)
		return 0, err
	}

	c := ctx.CPU()
	r.tableLock.Acquire(c)
	defer r.tableLock.Release(c)

	if m := r.findByName(name); m != nil {
		m.refs++
		cu := cleanup.Make(func() { m.refs-- })
		defer cu.Clean()
		h := m.Handle()
		if err := ctx.LockSet().Add(h); err != nil {
			createsMetric.Increment(createLockSetFull)
			return 0, err
		}
		cu.Release()
		refs.LogIncRef(m, m.refs)
		createsMetric.Increment(createAttached)
		log.Debugf("task %d: attached to mutex %q handle %d, %d references", ctx.ID(), name, h, m.refs)
		return h, nil
	}

	slot := r.freeSlot()
	if slot < 0 {
		createsMetric.Increment(createTableFull)
		warningLog.Warningf("mutex table full: task %d cannot create %q", ctx.ID(), name)
		return 0, kerr.ErrTableFull
	}
	h, err := r.issueHandle()
	if err != nil {
		createsMetric.Increment(createHandlesExhausted)
		return 0, err
	}

	m := &r.table[slot]
	m.take(name, h)
	r.live.Add(1)
	liveMutexes.Add(1)
	cu := cleanup.Make(func() {
		m.free()
		r.live.Add(-1)
		liveMutexes.Add(-1)
	})
	defer cu.Clean()

	if err := ctx.LockSet().Add(h); err != nil {
		createsMetric.Increment(createLockSetFull)
		return 0, err
	}
	cu.Release()
	createsMetric.Increment(createCreated)
	log.Debugf("task %d: created mutex %q handle %d in slot %d", ctx.ID(), name, h, slot)
	return h, nil
}

// issueHandle returns the next handle.
func (r *Registry) issueHandle() (Handle, error) {
	next := r.lastHandle.Add(1)
	if next > math.MaxInt32 {
		// Don't let repeated failures walk the issuer towards overflow.
		r.lastHandle.Store(math.MaxInt32)
		warningLog.Warningf("mutex handles exhausted")
		return 0, kerr.ErrHandlesExhausted
	}
	return Handle(next), nil
}

// Delete drops ctx's reference to the mutex h. The slot is freed when the
// last reference is dropped.
//
// Deleting a handle that names no live mutex, or one ctx holds no reference
// to, is a contract violation handled according to the registry Policy.
func (r *Registry) Delete(ctx Context, h Handle) error {
	r.checkInitialized()
	c := ctx.CPU()
	r.tableLock.Acquire(c)
	defer r.tableLock.Release(c)

	slot := r.findByHandle(h)
	if slot < 0 {
		deletesMetric.Increment(deleteUnknownHandle)
		return r.violation(kerr.ErrUnknownHandle, "task %d: delete of unknown mutex handle %d", ctx.ID(), h)
	}
	ls := ctx.LockSet()
	if !ls.Contains(h) {
		deletesMetric.Increment(deleteNotOwned)
		return r.violation(kerr.ErrNotOwned, "task %d: delete of mutex handle %d it does not hold", ctx.ID(), h)
	}

	m := &r.table[slot]
	ls.Remove(h)
	m.refs--
	refs.LogDecRef(m, m.refs)
	if m.refs > 0 {
		deletesMetric.Increment(deleteDetached)
		log.Debugf("task %d: detached from mutex %q handle %d, %d references", ctx.ID(), m.name, h, m.refs)
		return nil
	}
	log.Debugf("task %d: freed mutex %q handle %d in slot %d", ctx.ID(), m.name, h, slot)
	m.free()
	r.live.Add(-1)
	liveMutexes.Add(-1)
	deletesMetric.Increment(deleteFreed)
	return nil
}

// violation applies the delete policy to err.
func (r *Registry) violation(err error, format string, v ...any) error {
	msg := fmt.Sprintf(format, v...)
	if r.policy == PolicyPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
	return fmt.Errorf("%s: %w", msg, err)
}

// ReleaseAll deletes every reference left in ctx's lock set. It is used when
// a task exits.
func (r *Registry) ReleaseAll(ctx Context) error {
	var firstErr error
	for _, h := range ctx.LockSet().Handles() {
		if err := r.Delete(ctx, h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// findByName returns the in-use slot called name.
//
// Preconditions: the table lock is held.
func (r *Registry) findByName(name string) *Mutex {
	for i := range r.table {
		m := &r.table[i]
		if m.status == statusInUse && m.name == name {
			return m
		}
	}
	return nil
}

// findByHandle returns the index of the in-use slot with handle h, or -1.
//
// Preconditions: the table lock is held.
func (r *Registry) findByHandle(h Handle) int {
	if h <= 0 {
		return -1
	}
	for i := range r.table {
		m := &r.table[i]
		if m.status == statusInUse && m.Handle() == h {
			return i
		}
	}
	return -1
}

// freeSlot returns the index of the first unused, unpinned slot, or -1.
//
// Preconditions: the table lock is held.
func (r *Registry) freeSlot() int {
	for i := range r.table {
		m := &r.table[i]
		if m.status == statusUnused && m.pins.Load() == 0 {
			return i
		}
	}
	return -1
}

// pin looks h up and pins its slot. The caller must call unpin.
func (r *Registry) pin(ctx Context, h Handle) (*Mutex, error) {
	r.checkInitialized()
	c := ctx.CPU()
	r.tableLock.Acquire(c)
	defer r.tableLock.Release(c)

	slot := r.findByHandle(h)
	if slot < 0 {
		return nil, kerr.ErrUnknownHandle
	}
	m := &r.table[slot]
	m.pins.Add(1)
	return m, nil
}

func unpin(m *Mutex) {
	m.pins.Add(-1)
}

// Stat returns a description of the mutex h.
func (r *Registry) Stat(ctx Context, h Handle) (Info, error) {
	r.checkInitialized()
	c := ctx.CPU()
	r.tableLock.Acquire(c)
	defer r.tableLock.Release(c)

	slot := r.findByHandle(h)
	if slot < 0 {
		return Info{}, kerr.ErrUnknownHandle
	}
	return r.table[slot].info(slot), nil
}

// Snapshot describes every live mutex, in slot order.
func (r *Registry) Snapshot(ctx Context) []Info {
	r.checkInitialized()
	c := ctx.CPU()
	r.tableLock.Acquire(c)
	defer r.tableLock.Release(c)

	var infos []Info
	for i := range r.table {
		if m := &r.table[i]; m.status == statusInUse {
			infos = append(infos, m.info(i))
		}
	}
	return infos
}

// Live returns the number of live mutexes. It does not take the table lock.
func (r *Registry) Live() int {
	return int(r.live.Load())
}
