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
	"math/rand"
	"os"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/kmux/kmux/config"
	"gvisor.dev/kmux/kmux/flag"
	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/sentry/kernel"
	"gvisor.dev/kmux/pkg/sentry/kernel/mutex"
	"gvisor.dev/kmux/pkg/sentry/syscalls"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	tasks      int
	iterations int
	mutexes    int
	seed       int64
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run tasks that contend on shared named mutexes"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - runs tasks on all CPUs that repeatedly create, lock,
unlock and delete a small set of shared mutexes, and checks that every
critical section ran in mutual exclusion.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.tasks, "tasks", 0, "number of tasks. Defaults to one per CPU.")
	f.IntVar(&s.iterations, "iterations", 1000, "critical sections per task.")
	f.IntVar(&s.mutexes, "mutexes", 4, "number of distinct mutex names.")
	f.Int64Var(&s.seed, "seed", 1, "seed for the choice of mutex in each iteration.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := kernel.New(conf.KernelConfig())
	if err != nil {
		Fatalf("creating kernel: %v", err)
	}
	opts := stressOptions{
		Tasks:      s.tasks,
		Iterations: s.iterations,
		Mutexes:    s.mutexes,
		Seed:       s.seed,
	}
	if opts.Tasks == 0 {
		opts.Tasks = conf.CPUs
	}
	res, err := runStress(ctx, k, opts)
	if err != nil {
		Fatalf("stress: %v", err)
	}
	if err := k.Shutdown(); err != nil {
		Fatalf("shutdown: %v", err)
	}
	fmt.Fprintf(os.Stdout, "%d tasks on %d CPUs: %d critical sections in %v (%.0f/s)\n",
		opts.Tasks, conf.CPUs, res.Sections, res.Elapsed, float64(res.Sections)/res.Elapsed.Seconds())
	for i, n := range res.Counts {
		fmt.Fprintf(os.Stdout, "  %s: %d\n", stressName(i), n)
	}
	return subcommands.ExitSuccess
}

type stressOptions struct {
	Tasks      int
	Iterations int
	Mutexes    int
	Seed       int64
}

type stressResult struct {
	// Sections is the number of critical sections run.
	Sections int

	// Counts holds the critical sections run under each mutex name.
	Counts []int

	Elapsed time.Duration
}

func stressName(i int) string {
	return fmt.Sprintf("stress%d", i)
}

// runStress runs opts.Tasks tasks on k, never more at once than k has CPUs.
// Each critical section increments a counter guarded only by the named
// mutex, so a lost update means mutual exclusion failed.
func runStress(ctx context.Context, k *kernel.Kernel, opts stressOptions) (*stressResult, error) {
	switch {
	case opts.Tasks <= 0 || opts.Tasks > kernel.NPROC:
		return nil, fmt.Errorf("task count must be between 1 and %d, got %d", kernel.NPROC, opts.Tasks)
	case opts.Mutexes <= 0 || opts.Mutexes > mutex.Capacity:
		return nil, fmt.Errorf("mutex count must be between 1 and %d, got %d", mutex.Capacity, opts.Mutexes)
	case opts.Iterations < 0:
		return nil, fmt.Errorf("iteration count must not be negative, got %d", opts.Iterations)
	}

	tasks := make([]*kernel.Task, opts.Tasks)
	for i := range tasks {
		t, err := k.NewTask(fmt.Sprintf("stress-%d", i))
		if err != nil {
			return nil, err
		}
		tasks[i] = t
	}

	counts := make([]int, opts.Mutexes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(k.CPUs()))
	start := time.Now()
	for i, t := range tasks {
		t := t
		rng := rand.New(rand.NewSource(opts.Seed + int64(i)))
		g.Go(func() error {
			return k.Run(gctx, t, func(ctx context.Context, t *kernel.Task) error {
				return stressTask(ctx, t, rng, opts.Iterations, counts)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := &stressResult{
		Counts:  counts,
		Elapsed: time.Since(start),
	}
	for _, n := range counts {
		res.Sections += n
	}
	if want := opts.Tasks * opts.Iterations; res.Sections != want {
		return nil, fmt.Errorf("lost updates: %d critical sections counted, want %d", res.Sections, want)
	}
	return res, nil
}

func stressTask(ctx context.Context, t *kernel.Task, rng *rand.Rand, iterations int, counts []int) error {
	call := func(sysno uintptr, arg syscalls.Argument) (int, error) {
		rv := syscalls.Invoke(t, sysno, syscalls.Arguments{arg})
		if rv < 0 {
			return rv, fmt.Errorf("%v: %s(%v) failed", t, syscalls.Mutex[sysno].Name, arg)
		}
		return rv, nil
	}
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := rng.Intn(len(counts))
		h, err := call(syscalls.SYS_MUX_CREATE, syscalls.String(stressName(m)))
		if err != nil {
			return err
		}
		if _, err := call(syscalls.SYS_MUX_LOCK, syscalls.Int(h)); err != nil {
			return err
		}
		counts[m]++
		if _, err := call(syscalls.SYS_MUX_UNLOCK, syscalls.Int(h)); err != nil {
			return err
		}
		if _, err := call(syscalls.SYS_MUX_DELETE, syscalls.Int(h)); err != nil {
			return err
		}
	}
	log.Debugf("%v: finished %d iterations", t, iterations)
	return nil
}
