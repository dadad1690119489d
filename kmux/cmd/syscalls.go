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
	"sort"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/kmux/kmux/flag"
	"gvisor.dev/kmux/pkg/sentry/syscalls"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct{}

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print the mutex syscall table."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls - Print the mutex syscall table.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Syscalls) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Syscalls) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if err := outputTable(os.Stdout, syscalls.Mutex); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func outputTable(w io.Writer, tbl syscalls.Table) error {
	sysnos := make([]uintptr, 0, len(tbl))
	for sysno := range tbl {
		sysnos = append(sysnos, sysno)
	}
	sort.Slice(sysnos, func(i, j int) bool { return sysnos[i] < sysnos[j] })

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUM\tNAME")
	for _, sysno := range sysnos {
		fmt.Fprintf(tw, "%d\t%s\n", sysno, tbl[sysno].Name)
	}
	return tw.Flush()
}
