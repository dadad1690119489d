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

// Package syscalls is the interface from tasks to the mutex registry.
//
// Every syscall returns an int: a handle or 0 on success and -1 on any error.
// Registry contract violations configured as fatal propagate as panics.
package syscalls

import (
	"fmt"
	"math"
	"time"

	"gvisor.dev/kmux/pkg/errors/kerr"
	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/metric"
	"gvisor.dev/kmux/pkg/sentry/kernel"
)

// Syscall numbers.
const (
	SYS_MUX_CREATE = 22
	SYS_MUX_DELETE = 23
	SYS_MUX_LOCK   = 24
	SYS_MUX_UNLOCK = 25
)

// Fn is a syscall implementation.
type Fn func(t *kernel.Task, args Arguments) (uintptr, error)

// Syscall is one entry in a Table.
type Syscall struct {
	// Name is the syscall name, used in logs and metrics.
	Name string

	// Fn implements the syscall.
	Fn Fn
}

// Table maps syscall numbers to implementations.
type Table map[uintptr]Syscall

// Mutex is the mutex syscall table.
var Mutex = Table{
	SYS_MUX_CREATE: {Name: "mux_create", Fn: MuxCreate},
	SYS_MUX_DELETE: {Name: "mux_delete", Fn: MuxDelete},
	SYS_MUX_LOCK:   {Name: "mux_lock", Fn: MuxLock},
	SYS_MUX_UNLOCK: {Name: "mux_unlock", Fn: MuxUnlock},
}

var (
	syscallField = metric.NewField("syscall", "mux_create", "mux_delete", "mux_lock", "mux_unlock")
	callsMetric  = metric.MustCreateNewUint64Metric("/syscalls/calls", "Number of syscalls invoked, by syscall.", syscallField)
	errorsMetric = metric.MustCreateNewUint64Metric("/syscalls/errors", "Number of syscalls that returned -1, by syscall.", syscallField)
	unknownCalls = metric.MustCreateNewUint64Metric("/syscalls/unknown", "Number of invocations of unknown syscall numbers.")
)

// unknownLog limits reports of unknown syscall numbers.
var unknownLog = log.BasicRateLimitedLogger(time.Second)

// Lookup returns the syscall sysno.
func (tbl Table) Lookup(sysno uintptr) (Syscall, bool) {
	s, ok := tbl[sysno]
	return s, ok
}

// Invoke runs syscall sysno on behalf of t, which must be running. It
// returns the syscall's result, or -1 if it failed.
func (tbl Table) Invoke(t *kernel.Task, sysno uintptr, args Arguments) int {
	s, ok := tbl.Lookup(sysno)
	if !ok {
		unknownCalls.Increment()
		unknownLog.Warningf("%v: unknown syscall %d", t, sysno)
		return -1
	}
	callsMetric.Increment(s.Name)
	rv, err := s.Fn(t, args)
	if err != nil {
		errorsMetric.Increment(s.Name)
		if log.IsLogging(log.Debug) {
			log.Debugf("%v: %s(%v) = -1 (%v, errno %d)", t, s.Name, args, err, kerr.ToUnix(err))
		}
		return -1
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%v) = %d", t, s.Name, args, rv)
	}
	return int(rv)
}

// Invoke runs sysno from the Mutex table.
func Invoke(t *kernel.Task, sysno uintptr, args Arguments) int {
	return Mutex.Invoke(t, sysno, args)
}

// Argument is a single syscall argument: an integer or a string.
type Argument struct {
	value int64
	str   string
	isStr bool
}

// Int returns an integer argument.
func Int(v int) Argument {
	return Argument{value: int64(v)}
}

// String returns a string argument.
func String(s string) Argument {
	return Argument{str: s, isStr: true}
}

// Format implements fmt.Formatter.
func (a Argument) Format(f fmt.State, verb rune) {
	if a.isStr {
		fmt.Fprintf(f, "%q", a.str)
		return
	}
	fmt.Fprintf(f, "%d", a.value)
}

// Arguments are the arguments of one syscall.
type Arguments []Argument

// Int returns argument i as an int32. Values outside the int32 range are
// rejected rather than truncated.
func (a Arguments) Int(i int) (int32, error) {
	if i >= len(a) || a[i].isStr {
		return 0, fmt.Errorf("argument %d is not an integer: %w", i, kerr.ErrBadArgument)
	}
	if v := a[i].value; v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("argument %d (%d) out of range: %w", i, v, kerr.ErrBadArgument)
	}
	return int32(a[i].value), nil
}

// String returns argument i as a string.
func (a Arguments) String(i int) (string, error) {
	if i >= len(a) || !a[i].isStr {
		return "", fmt.Errorf("argument %d is not a string: %w", i, kerr.ErrBadArgument)
	}
	return a[i].str, nil
}
