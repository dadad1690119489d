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
	"gvisor.dev/kmux/pkg/atomicbitops"
	"gvisor.dev/kmux/pkg/metric"
)

// Create results.
const (
	createCreated          = "created"
	createAttached         = "attached"
	createTableFull        = "table_full"
	createLockSetFull      = "lock_set_full"
	createInvalidName      = "invalid_name"
	createHandlesExhausted = "handles_exhausted"
)

// Delete results.
const (
	deleteDetached      = "detached"
	deleteFreed         = "freed"
	deleteUnknownHandle = "unknown_handle"
	deleteNotOwned      = "not_owned"
)

// Lock results.
const (
	lockUncontended   = "uncontended"
	lockContended     = "contended"
	lockUnknownHandle = "unknown_handle"
	lockCancelled     = "cancelled"
	lockBusy          = "busy"
)

var (
	createsMetric = metric.MustCreateNewUint64Metric("/mutex/creates", "Number of mutex create calls, by result.",
		metric.NewField("result", createCreated, createAttached, createTableFull, createLockSetFull, createInvalidName, createHandlesExhausted))

	deletesMetric = metric.MustCreateNewUint64Metric("/mutex/deletes", "Number of mutex delete calls, by result.",
		metric.NewField("result", deleteDetached, deleteFreed, deleteUnknownHandle, deleteNotOwned))

	locksMetric = metric.MustCreateNewUint64Metric("/mutex/locks", "Number of mutex lock calls, by result.",
		metric.NewField("result", lockUncontended, lockContended, lockUnknownHandle, lockCancelled, lockBusy))

	unlocksMetric = metric.MustCreateNewUint64Metric("/mutex/unlocks", "Number of mutex unlock calls.")

	lockSpinsMetric = metric.MustCreateNewDistributionMetric("/mutex/lock_spins", "Failed exchange attempts per contended lock call.",
		metric.ExponentialBuckets(1, 4, 10))

	// liveMutexes counts in-use slots across all registries.
	liveMutexes atomicbitops.Int64
)

func init() {
	metric.MustRegisterCustomUint64Metric("/mutex/live", false /* cumulative */, "Number of mutexes currently in use.", func() uint64 {
		return uint64(liveMutexes.Load())
	})
}
