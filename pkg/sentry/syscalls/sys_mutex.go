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

	"gvisor.dev/kmux/pkg/sentry/kernel"
	"gvisor.dev/kmux/pkg/sentry/kernel/mutex"
)

// MuxCreate implements mux_create(name). It returns the mutex handle.
func MuxCreate(t *kernel.Task, args Arguments) (uintptr, error) {
	name, err := args.String(0)
	if err != nil {
		return 0, err
	}
	h, err := t.Kernel().Mutexes().Create(t, name)
	if err != nil {
		return 0, err
	}
	return uintptr(h), nil
}

// MuxDelete implements mux_delete(handle).
func MuxDelete(t *kernel.Task, args Arguments) (uintptr, error) {
	h, err := args.Int(0)
	if err != nil {
		return 0, err
	}
	return 0, t.Kernel().Mutexes().Delete(t, mutex.Handle(h))
}

// MuxLock implements mux_lock(handle). It blocks until the mutex is acquired,
// or until the kernel's lock timeout expires if one is configured.
func MuxLock(t *kernel.Task, args Arguments) (uintptr, error) {
	h, err := args.Int(0)
	if err != nil {
		return 0, err
	}
	k := t.Kernel()
	if timeout := k.LockTimeout(); timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return 0, k.Mutexes().LockContext(ctx, t, mutex.Handle(h))
	}
	return 0, k.Mutexes().Lock(t, mutex.Handle(h))
}

// MuxUnlock implements mux_unlock(handle).
func MuxUnlock(t *kernel.Task, args Arguments) (uintptr, error) {
	h, err := args.Int(0)
	if err != nil {
		return 0, err
	}
	return 0, t.Kernel().Mutexes().Unlock(t, mutex.Handle(h))
}
