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
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"gvisor.dev/kmux/pkg/errors/kerr"
	"gvisor.dev/kmux/pkg/sync"
)

// errContended is returned by a LockContext attempt that found the mutex
// held.
var errContended = errors.New("mutex contended")

// Backoff bounds for LockContext.
const (
	lockInitialInterval = 10 * time.Microsecond
	lockMaxInterval     = 5 * time.Millisecond
)

// Lock acquires the mutex h, busy-waiting for as long as it is held. There
// is no fairness among waiters and no bound on the wait.
//
// Lock returns ErrUnknownHandle if h names no live mutex, or if the mutex is
// deleted while the caller waits.
//
// Interrupts are not masked: the locked flag is a separate lock from the
// table lock and may be held across arbitrary task code.
func (r *Registry) Lock(ctx Context, h Handle) error {
	m, err := r.pin(ctx, h)
	if err != nil {
		locksMetric.Increment(lockUnknownHandle)
		return err
	}
	defer unpin(m)

	var s sync.Spinner
	for m.locked.Swap(1) != 0 {
		if m.Handle() != h {
			locksMetric.Increment(lockUnknownHandle)
			return kerr.ErrUnknownHandle
		}
		s.Spin()
		if s.Attempts() == 1<<20 {
			warningLog.Warningf("task %d: still spinning on mutex handle %d after %d attempts", ctx.ID(), h, s.Attempts())
		}
	}
	return r.acquired(m, h, s.Attempts())
}

// acquired completes a successful exchange on m. If h was deleted while the
// caller waited, the flag is dropped again.
func (r *Registry) acquired(m *Mutex, h Handle, spins uint64) error {
	if m.Handle() != h {
		m.locked.Swap(0)
		locksMetric.Increment(lockUnknownHandle)
		return kerr.ErrUnknownHandle
	}
	if spins == 0 {
		locksMetric.Increment(lockUncontended)
	} else {
		locksMetric.Increment(lockContended)
		lockSpinsMetric.AddSample(spins)
	}
	return nil
}

// LockContext is like Lock, but waits between attempts with an exponential
// backoff and gives up with the context's error once goctx is done.
func (r *Registry) LockContext(goctx context.Context, ctx Context, h Handle) error {
	m, err := r.pin(ctx, h)
	if err != nil {
		locksMetric.Increment(lockUnknownHandle)
		return err
	}
	defer unpin(m)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lockInitialInterval
	b.MaxInterval = lockMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	var spins uint64
	op := func() error {
		if m.Handle() != h {
			return backoff.Permanent(kerr.ErrUnknownHandle)
		}
		if m.locked.Swap(1) == 0 {
			return nil
		}
		spins++
		return errContended
	}
	switch err := backoff.Retry(op, backoff.WithContext(b, goctx)); {
	case err == nil:
		return r.acquired(m, h, spins)
	case errors.Is(err, errContended):
		locksMetric.Increment(lockCancelled)
		if ctxErr := goctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	default:
		locksMetric.Increment(lockUnknownHandle)
		return err
	}
}

// TryLock makes a single attempt to acquire the mutex h. It returns false
// without error if the mutex is held.
func (r *Registry) TryLock(ctx Context, h Handle) (bool, error) {
	m, err := r.pin(ctx, h)
	if err != nil {
		locksMetric.Increment(lockUnknownHandle)
		return false, err
	}
	defer unpin(m)

	if m.locked.Swap(1) != 0 {
		locksMetric.Increment(lockBusy)
		return false, nil
	}
	if err := r.acquired(m, h, 0); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases the mutex h. It does not check that the caller acquired
// it, and unlocking a free mutex is a no-op.
func (r *Registry) Unlock(ctx Context, h Handle) error {
	m, err := r.pin(ctx, h)
	if err != nil {
		return err
	}
	defer unpin(m)

	m.locked.Swap(0)
	unlocksMetric.Increment()
	return nil
}
