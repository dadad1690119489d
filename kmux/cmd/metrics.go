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
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"
	"gvisor.dev/kmux/kmux/config"
	"gvisor.dev/kmux/kmux/flag"
	"gvisor.dev/kmux/pkg/metric"
	"gvisor.dev/kmux/pkg/sentry/kernel"
)

// Metrics implements subcommands.Command for the "metrics" command.
type Metrics struct {
	out string
}

// Name implements subcommands.Command.Name.
func (*Metrics) Name() string {
	return "metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Metrics) Synopsis() string {
	return "print kernel metrics in Prometheus text format"
}

// Usage implements subcommands.Command.Usage.
func (*Metrics) Usage() string {
	return `metrics [-out=<file>] [script.yaml] - runs the script, if given, and
prints the resulting metric values in Prometheus text format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Metrics) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.out, "out", "", "write metrics to this file instead of stdout. Concurrent writers are serialized with a lock file.")
}

// Execute implements subcommands.Command.Execute.
func (m *Metrics) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if f.NArg() == 1 {
		s, err := loadScript(f.Arg(0))
		if err != nil {
			Fatalf("%v", err)
		}
		k, err := kernel.New(conf.KernelConfig())
		if err != nil {
			Fatalf("creating kernel: %v", err)
		}
		if err := runScript(ctx, k, s, io.Discard); err != nil {
			Fatalf("%v", err)
		}
		if err := k.Shutdown(); err != nil {
			Fatalf("shutdown: %v", err)
		}
	}

	if m.out == "" {
		if err := metric.WritePrometheus(os.Stdout); err != nil {
			Fatalf("writing metrics: %v", err)
		}
		return subcommands.ExitSuccess
	}
	if err := writeMetricsFile(m.out); err != nil {
		Fatalf("%v", err)
	}
	Infof("Wrote metrics to %q", m.out)
	return subcommands.ExitSuccess
}

// writeMetricsFile replaces path with the current metric values. The lock on
// path.lock keeps concurrent kmux processes from interleaving reports.
func writeMetricsFile(path string) error {
	l := flock.New(path + ".lock")
	if err := l.Lock(); err != nil {
		return fmt.Errorf("error acquiring lock on %q: %w", l.Path(), err)
	}
	defer l.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := metric.WritePrometheus(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
