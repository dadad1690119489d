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

package syscalls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gvisor.dev/kmux/pkg/errors/kerr"
	"gvisor.dev/kmux/pkg/sentry/kernel"
	"gvisor.dev/kmux/pkg/sentry/kernel/mutex"
)

func newKernel(t *testing.T, conf kernel.Config) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(conf)
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	return k
}

// run runs fn as a new task called name.
func run(t *testing.T, k *kernel.Kernel, name string, fn func(*kernel.Task)) *kernel.Task {
	t.Helper()
	task, err := k.NewTask(name)
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	err = k.Run(context.Background(), task, func(_ context.Context, task *kernel.Task) error {
		fn(task)
		return nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return task
}

func TestMutexSyscalls(t *testing.T) {
	k := newKernel(t, kernel.Config{CPUs: 1})
	run(t, k, "a", func(task *kernel.Task) {
		h := Invoke(task, SYS_MUX_CREATE, Arguments{String("L")})
		if h != 1 {
			t.Fatalf("mux_create(L) = %d, want 1", h)
		}
		for _, tc := range []struct {
			sysno uintptr
			want  int
		}{
			{SYS_MUX_LOCK, 0},
			{SYS_MUX_UNLOCK, 0},
			{SYS_MUX_DELETE, 0},
			{SYS_MUX_LOCK, -1},
			{SYS_MUX_UNLOCK, -1},
		} {
			name := Mutex[tc.sysno].Name
			if got := Invoke(task, tc.sysno, Arguments{Int(h)}); got != tc.want {
				t.Errorf("%s(%d) = %d, want %d", name, h, got, tc.want)
			}
		}
	})
}

func TestCreateErrors(t *testing.T) {
	k := newKernel(t, kernel.Config{CPUs: 1})
	run(t, k, "a", func(task *kernel.Task) {
		for _, tc := range []struct {
			name string
			args Arguments
		}{
			{name: "no argument"},
			{name: "integer argument", args: Arguments{Int(3)}},
			{name: "empty name", args: Arguments{String("")}},
			{name: "long name", args: Arguments{String(strings.Repeat("x", mutex.MaxNameLen+1))}},
		} {
			t.Run(tc.name, func(t *testing.T) {
				if got := Invoke(task, SYS_MUX_CREATE, tc.args); got != -1 {
					t.Errorf("mux_create(%v) = %d, want -1", tc.args, got)
				}
			})
		}

		for i := 0; i < mutex.Capacity; i++ {
			if h := Invoke(task, SYS_MUX_CREATE, Arguments{String(fmt.Sprintf("m%d", i))}); h <= 0 {
				t.Fatalf("mux_create #%d = %d", i, h)
			}
		}
		if got := Invoke(task, SYS_MUX_CREATE, Arguments{String("full")}); got != -1 {
			t.Errorf("mux_create on a full table = %d, want -1", got)
		}
	})
}

func TestMissingHandleArgument(t *testing.T) {
	k := newKernel(t, kernel.Config{CPUs: 1})
	run(t, k, "a", func(task *kernel.Task) {
		for _, sysno := range []uintptr{SYS_MUX_DELETE, SYS_MUX_LOCK, SYS_MUX_UNLOCK} {
			if got := Invoke(task, sysno, nil); got != -1 {
				t.Errorf("%s() = %d, want -1", Mutex[sysno].Name, got)
			}
			if got := Invoke(task, sysno, Arguments{String("1")}); got != -1 {
				t.Errorf("%s(\"1\") = %d, want -1", Mutex[sysno].Name, got)
			}
		}
	})
}

func TestOutOfRangeHandle(t *testing.T) {
	k := newKernel(t, kernel.Config{CPUs: 1, Mutex: mutex.Options{Policy: mutex.PolicyError}})
	run(t, k, "a", func(task *kernel.Task) {
		h := Invoke(task, SYS_MUX_CREATE, Arguments{String("m")})
		if h != 1 {
			t.Fatalf("mux_create(m) = %d, want 1", h)
		}
		for _, bad := range []int{h + 1<<32, h - 1<<32, 1 << 40} {
			for _, sysno := range []uintptr{SYS_MUX_LOCK, SYS_MUX_UNLOCK, SYS_MUX_DELETE} {
				if got := Invoke(task, sysno, Arguments{Int(bad)}); got != -1 {
					t.Errorf("%s(%d) = %d, want -1", Mutex[sysno].Name, bad, got)
				}
			}
		}
		if got := k.Mutexes().Live(); got != 1 {
			t.Errorf("Live() = %d, want 1", got)
		}
		if got := Invoke(task, SYS_MUX_DELETE, Arguments{Int(h)}); got != 0 {
			t.Errorf("mux_delete(%d) = %d, want 0", h, got)
		}
	})
}

func TestUnknownSyscall(t *testing.T) {
	k := newKernel(t, kernel.Config{CPUs: 1})
	before := unknownCalls.Value()
	run(t, k, "a", func(task *kernel.Task) {
		if got := Invoke(task, 99, nil); got != -1 {
			t.Errorf("Invoke(99) = %d, want -1", got)
		}
	})
	if got := unknownCalls.Value(); got != before+1 {
		t.Errorf("unknown syscall count = %d, want %d", got, before+1)
	}
}

func TestDeletePolicy(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		k := newKernel(t, kernel.Config{CPUs: 1, Mutex: mutex.Options{Policy: mutex.PolicyError}})
		run(t, k, "a", func(task *kernel.Task) {
			if got := Invoke(task, SYS_MUX_DELETE, Arguments{Int(7)}); got != -1 {
				t.Errorf("mux_delete(7) = %d, want -1", got)
			}
		})
	})
	t.Run("panic", func(t *testing.T) {
		k := newKernel(t, kernel.Config{CPUs: 1})
		task, err := k.NewTask("a")
		if err != nil {
			t.Fatalf("NewTask failed: %v", err)
		}
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("mux_delete(7) did not panic")
			}
			if task.Running() {
				t.Errorf("task still bound to a CPU after panic")
			}
		}()
		k.Run(context.Background(), task, func(_ context.Context, task *kernel.Task) error {
			Invoke(task, SYS_MUX_DELETE, Arguments{Int(7)})
			return nil
		})
	})
}

func TestLockTimeout(t *testing.T) {
	k := newKernel(t, kernel.Config{CPUs: 2, LockTimeout: 20 * time.Millisecond})
	a, err := k.NewTask("a")
	if err != nil {
		t.Fatalf("NewTask failed: %v", err)
	}
	var h int
	err = k.Run(context.Background(), a, func(_ context.Context, a *kernel.Task) error {
		h = Invoke(a, SYS_MUX_CREATE, Arguments{String("L")})
		if got := Invoke(a, SYS_MUX_LOCK, Arguments{Int(h)}); got != 0 {
			return fmt.Errorf("mux_lock = %d", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("task a failed: %v", err)
	}

	run(t, k, "b", func(b *kernel.Task) {
		if got := Invoke(b, SYS_MUX_LOCK, Arguments{Int(h)}); got != -1 {
			t.Errorf("mux_lock on a held mutex = %d, want -1 after the timeout", got)
		}
		if _, err := MuxLock(b, Arguments{Int(h)}); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("MuxLock = %v, want %v", err, context.DeadlineExceeded)
		}
		if _, err := MuxLock(b, Arguments{Int(h + 1)}); !errors.Is(err, kerr.ErrUnknownHandle) {
			t.Errorf("MuxLock of an unknown handle = %v, want %v", err, kerr.ErrUnknownHandle)
		}
	})
}

func TestArgumentFormat(t *testing.T) {
	got := fmt.Sprintf("%v", Arguments{String("L"), Int(3)})
	if want := `["L" 3]`; got != want {
		t.Errorf("Arguments formatted as %s, want %s", got, want)
	}
}
