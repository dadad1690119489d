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

// Package kernel owns the simulated CPUs, the task table and the named mutex
// registry.
//
// Lock order:
//
//	Kernel.mu
//	  mutex.Registry table lock
//
// Kernel.mu is never held while a task runs.
package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/btree"
	"gvisor.dev/kmux/pkg/cpu"
	"gvisor.dev/kmux/pkg/errors/kerr"
	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/metric"
	"gvisor.dev/kmux/pkg/refs"
	"gvisor.dev/kmux/pkg/sentry/kernel/mutex"
	"gvisor.dev/kmux/pkg/sync"
)

// NPROC is the maximum number of tasks in the task table.
const NPROC = 64

// taskTableDegree is the B-tree degree of the task table.
const taskTableDegree = 8

func taskLess(a, b *Task) bool {
	return a.tid < b.tid
}

var (
	tasksCreated = metric.MustCreateNewUint64Metric("/kernel/tasks_created", "Number of tasks created.")
	tasksExited  = metric.MustCreateNewUint64Metric("/kernel/tasks_exited", "Number of tasks that exited.")
)

// Config configures a Kernel.
type Config struct {
	// CPUs is the number of simulated CPUs. It must be positive.
	CPUs int

	// Mutex configures the named mutex registry.
	Mutex mutex.Options

	// LockTimeout bounds how long the lock syscall waits for a held mutex.
	// Zero means forever.
	LockTimeout time.Duration
}

// Kernel is a set of CPUs running tasks that share one mutex registry.
type Kernel struct {
	// cpus is immutable.
	cpus []*cpu.CPU

	// mutexes is the registry instance for this kernel. It is initialized
	// once by New.
	mutexes *mutex.Registry

	// lockTimeout is immutable.
	lockTimeout time.Duration

	mu sync.Mutex

	// idle holds the CPUs no task is bound to. It is protected by mu.
	idle []*cpu.CPU

	// tasks is the task table, ordered by ThreadID. It is protected by mu.
	tasks *btree.BTreeG[*Task]

	// lastTID is the last ThreadID issued. It is protected by mu.
	lastTID ThreadID
}

// New returns a Kernel with conf.CPUs idle CPUs and an empty task table.
func New(conf Config) (*Kernel, error) {
	if conf.CPUs <= 0 {
		return nil, fmt.Errorf("invalid CPU count %d", conf.CPUs)
	}
	k := &Kernel{
		cpus:        cpu.NewSet(conf.CPUs),
		mutexes:     mutex.NewRegistry(conf.Mutex),
		lockTimeout: conf.LockTimeout,
		tasks:       btree.NewG(taskTableDegree, taskLess),
	}
	// Bind from the front of the list.
	k.idle = make([]*cpu.CPU, len(k.cpus))
	for i, c := range k.cpus {
		k.idle[len(k.cpus)-1-i] = c
	}
	log.Infof("kernel started with %d CPUs, delete policy %s", len(k.cpus), conf.Mutex.Policy)
	return k, nil
}

// Mutexes returns the kernel's mutex registry.
func (k *Kernel) Mutexes() *mutex.Registry {
	return k.mutexes
}

// LockTimeout returns the lock syscall's wait bound, or 0 for none.
func (k *Kernel) LockTimeout() time.Duration {
	return k.lockTimeout
}

// CPUs returns the kernel's CPUs, in id order.
func (k *Kernel) CPUs() []*cpu.CPU {
	return append([]*cpu.CPU(nil), k.cpus...)
}

// NewTask adds a task called name to the task table.
func (k *Kernel) NewTask(name string) (*Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tasks.Len() >= NPROC {
		return nil, kerr.ErrTooManyTasks
	}
	k.lastTID++
	t := &Task{
		k:    k,
		tid:  k.lastTID,
		name: name,
	}
	k.tasks.ReplaceOrInsert(t)
	tasksCreated.Increment()
	log.Debugf("task %d (%s) created", t.tid, name)
	return t, nil
}

// Tasks returns the tasks in the task table, in ThreadID order.
func (k *Kernel) Tasks() []*Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	ts := make([]*Task, 0, k.tasks.Len())
	k.tasks.Ascend(func(t *Task) bool {
		ts = append(ts, t)
		return true
	})
	return ts
}

// Run binds an idle CPU to t and calls fn on the calling goroutine. The CPU
// is released when fn returns. A CPU runs at most one task at a time, so
// while fn runs t.CPU is the only CPU executing on t's behalf.
//
// Run does not wait for a CPU: it returns ErrNoCPU if every CPU is busy.
func (k *Kernel) Run(ctx context.Context, t *Task, fn func(context.Context, *Task) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := k.bind(t)
	if err != nil {
		return err
	}
	defer k.unbind(t, c)
	err = fn(ctx, t)
	// Checked only on a normal return, so a panic from fn is not masked.
	if d := c.Depth(); d != 0 {
		panic(fmt.Sprintf("task %d left %v with %d pushoff levels", t.tid, c, d))
	}
	return err
}

func (k *Kernel) bind(t *Task) (*cpu.CPU, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t.exited.Load() {
		return nil, kerr.ErrTaskExited
	}
	if c := t.cpu.Load(); c != nil {
		panic(fmt.Sprintf("task %d already running on %v", t.tid, c))
	}
	if len(k.idle) == 0 {
		return nil, kerr.ErrNoCPU
	}
	c := k.idle[len(k.idle)-1]
	k.idle = k.idle[:len(k.idle)-1]
	t.cpu.Store(c)
	return c, nil
}

func (k *Kernel) unbind(t *Task, c *cpu.CPU) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t.cpu.Store(nil)
	k.idle = append(k.idle, c)
}

// remove drops t from the task table.
func (k *Kernel) remove(t *Task) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tasks.Delete(t)
}

// Shutdown exits every remaining task and then checks for leaked mutexes.
// It returns the first error from a task exit.
func (k *Kernel) Shutdown() error {
	var firstErr error
	for _, t := range k.Tasks() {
		if err := t.Exit(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if n := refs.DoRepeatedLeakCheck(); n > 0 {
		log.Warningf("kernel shut down with %d leaked mutexes", n)
	}
	log.Infof("kernel shut down, %d mutexes live", k.mutexes.Live())
	return firstErr
}
