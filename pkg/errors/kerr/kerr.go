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

// Package kerr contains the kernel's error values, exported as *errors.Error
// pointers. This allows for fast comparison with errors.Is while each value
// still carries the errno a syscall would report.
package kerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/kmux/pkg/errors"
)

// Mutex registry errors.
var (
	// ErrTableFull is returned by create when every registry slot is in use.
	ErrTableFull = errors.New(unix.ENOSPC, "mutex table full")

	// ErrLockSetFull is returned by create when the calling task already
	// references LockSetCapacity mutexes.
	ErrLockSetFull = errors.New(unix.EMFILE, "task lock set full")

	// ErrUnknownHandle is returned when a handle names no live mutex.
	ErrUnknownHandle = errors.New(unix.EINVAL, "unknown mutex handle")

	// ErrNotOwned is returned by delete when the calling task holds no
	// reference to the handle.
	ErrNotOwned = errors.New(unix.EPERM, "mutex not referenced by task")

	// ErrInvalidName is returned for an empty mutex name.
	ErrInvalidName = errors.New(unix.EINVAL, "invalid mutex name")

	// ErrNameTooLong is returned for a mutex name over MaxNameLen bytes.
	ErrNameTooLong = errors.New(unix.ENAMETOOLONG, "mutex name too long")

	// ErrHandlesExhausted is returned once the handle issuer has run past
	// the largest representable handle.
	ErrHandlesExhausted = errors.New(unix.ENOSPC, "mutex handles exhausted")
)

// Kernel errors.
var (
	// ErrTooManyTasks is returned when the task table is full.
	ErrTooManyTasks = errors.New(unix.EAGAIN, "too many tasks")

	// ErrNoCPU is returned when no CPU is free to run a task.
	ErrNoCPU = errors.New(unix.EBUSY, "no free cpu")

	// ErrTaskExited is returned when running a task that has exited.
	ErrTaskExited = errors.New(unix.ESRCH, "task has exited")
)

// Syscall errors.
var (
	// ErrNoSys is returned for an unknown syscall number.
	ErrNoSys = errors.New(unix.ENOSYS, "invalid system call number")

	// ErrBadArgument is returned when a syscall argument is missing or has
	// the wrong type.
	ErrBadArgument = errors.New(unix.EFAULT, "bad syscall argument")
)

// ToError extracts the *errors.Error wrapped in err, if any.
func ToError(err error) (*errors.Error, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ToUnix returns the errno err carries, or EINVAL when err is not a kernel
// error. A nil err yields 0.
func ToUnix(err error) unix.Errno {
	if err == nil {
		return 0
	}
	if e, ok := ToError(err); ok {
		return e.Errno()
	}
	return unix.EINVAL
}
