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

package kernel

import (
	"context"
	"fmt"
	"sync/atomic"

	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/cpu"
	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/sentry/kernel/mutex"
)

// ThreadID identifies a task. ThreadIDs are issued in increasing order and
// never reused.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", tid)
}

// Task is an execution context. It implements mutex.Context.
type Task struct {
	k    *Kernel
	tid  ThreadID
	name string

	// cpu is the CPU t is bound to while running under Kernel.Run, and nil
	// otherwise.
	cpu atomic.Pointer[cpu.CPU]

	// ls is mutated only by the mutex registry, under its table lock.
	ls mutex.LockSet

	exited atomicbitops.Bool
}

var _ mutex.Context = (*Task)(nil)

// ThreadID returns t's ThreadID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Name returns t's name.
func (t *Task) Name() string {
	return t.name
}

// Kernel returns the kernel t belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// CPU implements mutex.Context.CPU. It panics if t is not running.
func (t *Task) CPU() *cpu.CPU {
	c := t.cpu.Load()
	if c == nil {
		panic(fmt.Sprintf("task %d is not running on a CPU", t.tid))
	}
	return c
}

// LockSet implements mutex.Context.LockSet.
func (t *Task) LockSet() *mutex.LockSet {
	return &t.ls
}

// ID implements mutex.Context.ID.
func (t *Task) ID() int {
	return int(t.tid)
}

// Running returns true if t is bound to a CPU.
func (t *Task) Running() bool {
	return t.cpu.Load() != nil
}

// Exited returns true if t has exited.
func (t *Task) Exited() bool {
	return t.exited.Load()
}

// Exit drops every mutex reference t still holds and removes it from the
// task table. If t is not running, Exit runs it on an idle CPU to do so.
//
// Exit is idempotent.
func (t *Task) Exit() error {
	if t.exited.Load() {
		return nil
	}
	if !t.Running() {
		return t.k.Run(context.Background(), t, func(context.Context, *Task) error {
			return t.Exit()
		})
	}
	err := t.releaseAll()
	if t.exited.Swap(true) {
		return err
	}
	t.k.remove(t)
	tasksExited.Increment()
	log.Debugf("task %d (%s) exited", t.tid, t.name)
	return err
}

func (t *Task) releaseAll() error {
	if n := t.ls.Len(); n > 0 {
		log.Debugf("task %d (%s) exiting with %d mutex references", t.tid, t.name, n)
	}
	return t.k.mutexes.ReleaseAll(t)
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.tid, t.name)
}
