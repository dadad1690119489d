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

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/kmux/kmux/config"
	"gvisor.dev/kmux/kmux/flag"
	"gvisor.dev/kmux/pkg/sentry/kernel"
	"gvisor.dev/kmux/pkg/sentry/syscalls"
)

// Script implements subcommands.Command for the "script" command.
type Script struct{}

// Name implements subcommands.Command.Name.
func (*Script) Name() string {
	return "script"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Script) Synopsis() string {
	return "run a scripted sequence of mutex syscalls"
}

// Usage implements subcommands.Command.Usage.
func (*Script) Usage() string {
	return `script <file.yaml> - runs the steps in file, in order, and prints each
syscall and its result. Example:

  steps:
  - {task: a, call: mux_create, name: L, save: l, expect: 1}
  - {task: b, call: mux_create, name: L, expect: 1}
  - {task: a, call: mux_lock, ref: l}
  - {task: a, call: mux_unlock, ref: l}
  - {task: a, call: exit}

A step calling mux_lock on a mutex held by another task blocks forever unless
--lock-timeout is set.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Script) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Script) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	s, err := loadScript(f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	k, err := kernel.New(conf.KernelConfig())
	if err != nil {
		Fatalf("creating kernel: %v", err)
	}
	if err := runScript(ctx, k, s, os.Stdout); err != nil {
		Fatalf("%v", err)
	}
	if err := k.Shutdown(); err != nil {
		Fatalf("shutdown: %v", err)
	}
	return subcommands.ExitSuccess
}

// workload is a script file.
type workload struct {
	Steps []step `yaml:"steps"`
}

// step is one syscall made by a task.
type step struct {
	// Task names the task making the call. Tasks are created on first use.
	Task string `yaml:"task"`

	// Call is a syscall name from the mutex table, or "exit".
	Call string `yaml:"call"`

	// Name is the mux_create argument.
	Name string `yaml:"name,omitempty"`

	// Handle is the handle argument of the other syscalls. Ref, if set,
	// takes the handle from a result saved by an earlier step instead.
	Handle int    `yaml:"handle,omitempty"`
	Ref    string `yaml:"ref,omitempty"`

	// Save stores the result under a name for later Refs.
	Save string `yaml:"save,omitempty"`

	// Expect, if set, is the required result.
	Expect *int `yaml:"expect,omitempty"`
}

func loadScript(path string) (*workload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseScript(f)
}

func parseScript(r io.Reader) (*workload, error) {
	var w workload
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	return &w, nil
}

// runScript runs the steps of s in order on k, writing one line per step to
// out.
func runScript(ctx context.Context, k *kernel.Kernel, s *workload, out io.Writer) error {
	sysnos := make(map[string]uintptr, len(syscalls.Mutex))
	for sysno, sc := range syscalls.Mutex {
		sysnos[sc.Name] = sysno
	}
	tasks := make(map[string]*kernel.Task)
	saved := make(map[string]int)

	for i, st := range s.Steps {
		if st.Task == "" {
			return fmt.Errorf("step %d: no task", i)
		}
		t, ok := tasks[st.Task]
		if !ok {
			var err error
			if t, err = k.NewTask(st.Task); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			tasks[st.Task] = t
		}

		if st.Call == "exit" {
			if err := t.Exit(); err != nil {
				return fmt.Errorf("step %d: %v exit: %w", i, t, err)
			}
			fmt.Fprintf(out, "%s: exit\n", st.Task)
			continue
		}
		sysno, ok := sysnos[st.Call]
		if !ok {
			return fmt.Errorf("step %d: unknown call %q", i, st.Call)
		}
		var args syscalls.Arguments
		if sysno == syscalls.SYS_MUX_CREATE {
			args = syscalls.Arguments{syscalls.String(st.Name)}
		} else {
			h := st.Handle
			if st.Ref != "" {
				if h, ok = saved[st.Ref]; !ok {
					return fmt.Errorf("step %d: no saved result %q", i, st.Ref)
				}
			}
			args = syscalls.Arguments{syscalls.Int(h)}
		}

		var rv int
		err := k.Run(ctx, t, func(_ context.Context, t *kernel.Task) error {
			rv = syscalls.Invoke(t, sysno, args)
			return nil
		})
		if err != nil {
			return fmt.Errorf("step %d: running %v: %w", i, t, err)
		}
		fmt.Fprintf(out, "%s: %s(%v) = %d\n", st.Task, st.Call, args[0], rv)
		if st.Save != "" {
			saved[st.Save] = rv
		}
		if st.Expect != nil && *st.Expect != rv {
			return fmt.Errorf("step %d: %s returned %d, want %d", i, st.Call, rv, *st.Expect)
		}
	}
	return nil
}
