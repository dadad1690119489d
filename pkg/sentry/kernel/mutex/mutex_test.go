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
	"testing"

	"gvisor.dev/kmux/pkg/cpu"
)

// testTask is a Context running on its own CPU.
type testTask struct {
	id  int
	cpu *cpu.CPU
	ls  LockSet
}

func (t *testTask) CPU() *cpu.CPU     { return t.cpu }
func (t *testTask) LockSet() *LockSet { return &t.ls }
func (t *testTask) ID() int           { return t.id }

func newTasks(n int) []*testTask {
	cpus := cpu.NewSet(n)
	tasks := make([]*testTask, n)
	for i := range tasks {
		tasks[i] = &testTask{id: i + 1, cpu: cpus[i]}
	}
	return tasks
}

func mustPanic(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic, got none")
		}
		msg = fmt.Sprint(r)
	}()
	fn()
	return ""
}

func mustCreate(t *testing.T, r *Registry, ctx Context, name string) Handle {
	t.Helper()
	h, err := r.Create(ctx, name)
	if err != nil {
		t.Fatalf("task %d: Create(%q) failed: %v", ctx.ID(), name, err)
	}
	return h
}

func mustStat(t *testing.T, r *Registry, ctx Context, h Handle) Info {
	t.Helper()
	info, err := r.Stat(ctx, h)
	if err != nil {
		t.Fatalf("Stat(%d) failed: %v", h, err)
	}
	return info
}

// checkTableIdle verifies that no slot is pinned and that the table lock is
// free, which is the state every operation must leave behind.
func checkTableIdle(t *testing.T, r *Registry) {
	t.Helper()
	if owner := r.tableLock.Owner(); owner != nil {
		t.Errorf("table lock still held by %v", owner)
	}
	for i := range r.table {
		if pins := r.table[i].pins.Load(); pins != 0 {
			t.Errorf("slot %d has %d pins", i, pins)
		}
	}
}
