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

// Package mutex implements the kernel's named mutex registry.
//
// Tasks create mutexes by name and refer to them by a small integer handle.
// Creating a mutex whose name is already registered attaches to it instead,
// so independent tasks can share a mutex by agreeing on its name. Every
// create reference is recorded in the calling task's LockSet and must be
// matched by a delete from the same task.
//
// Lock ordering:
//
//	Registry.tableLock
//	  Mutex.locked (never held while acquiring tableLock by this package)
//
// The table lock protects slot metadata only. A mutex's locked flag is a
// separate, coarser lock toggled with an atomic exchange, and lock and
// unlock touch it after the table lock has been dropped. Slots are pinned
// for the duration of those calls and a pinned slot is never reused, and
// handles are never reissued, so a slot whose handle no longer matches was
// deleted underneath the caller.
package mutex

import (
	"fmt"

	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/cpu"
	"gvisor.dev/kmux/pkg/refs"
)

const (
	// Capacity is the number of mutexes the registry can hold at once.
	Capacity = 16

	// LockSetCapacity is the number of create references a task can hold.
	LockSetCapacity = 16

	// MaxNameLen is the maximum length of a mutex name, in bytes.
	MaxNameLen = 99
)

// Handle identifies a live mutex. Valid handles are positive.
type Handle int32

// Context is the execution context a registry operation runs on behalf of.
// kernel.Task implements it.
type Context interface {
	// CPU returns the CPU the context is running on.
	CPU() *cpu.CPU

	// LockSet returns the context's lock set. Only the registry mutates it.
	LockSet() *LockSet

	// ID identifies the context in log messages.
	ID() int
}

type status int

const (
	statusUnused status = iota
	statusInUse
)

// Mutex is one registry slot.
type Mutex struct {
	// name, status and refs are protected by the registry table lock.
	name   string
	status status
	refs   int64

	// handle is written under the table lock and read without it by lock
	// and unlock. It is 0 while the slot is unused.
	handle atomicbitops.Int32

	// locked is toggled by lock and unlock with Swap.
	locked atomicbitops.Uint32

	// pins counts lock and unlock calls that looked this slot up and have
	// not returned yet. It is only incremented under the table lock.
	pins atomicbitops.Int32

	// logRefs is immutable after Registry.Init.
	logRefs bool
}

// Handle returns the slot's current handle, or 0 if it is unused.
func (m *Mutex) Handle() Handle {
	return Handle(m.handle.Load())
}

// RefType implements refs.CheckedObject.RefType.
func (m *Mutex) RefType() string {
	return "mutex"
}

// LeakMessage implements refs.CheckedObject.LeakMessage.
func (m *Mutex) LeakMessage() string {
	return fmt.Sprintf("[mutex %q handle %d] leaked with %d references", m.name, m.Handle(), m.refs)
}

// LogRefs implements refs.CheckedObject.LogRefs.
func (m *Mutex) LogRefs() bool {
	return m.logRefs
}

var _ refs.CheckedObject = (*Mutex)(nil)

// take initializes an unused slot.
//
// Preconditions: the table lock is held and m is unused and unpinned.
func (m *Mutex) take(name string, h Handle) {
	m.name = name
	m.status = statusInUse
	m.refs = 1
	m.locked.Store(0)
	m.handle.Store(int32(h))
	refs.Register(m)
}

// free returns m to the unused state. The locked flag is left alone: a
// pinned locker may still be spinning on it, and take resets it.
//
// Preconditions: the table lock is held.
func (m *Mutex) free() {
	refs.Unregister(m)
	m.name = ""
	m.status = statusUnused
	m.refs = 0
	m.handle.Store(0)
}

// Info describes a live mutex.
type Info struct {
	Slot   int
	Name   string
	Handle Handle
	Refs   int64
	Locked bool
}

func (m *Mutex) info(slot int) Info {
	return Info{
		Slot:   slot,
		Name:   m.name,
		Handle: m.Handle(),
		Refs:   m.refs,
		Locked: m.locked.Load() != 0,
	}
}
