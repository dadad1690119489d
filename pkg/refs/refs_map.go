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

package refs

import (
	"fmt"
	"sort"
	"strings"

	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/sync"
)

var (
	liveMu sync.Mutex

	// live maps each registered object to the stack that registered it.
	// The stack is only recorded for objects that log their references.
	// It is protected by liveMu.
	live = make(map[CheckedObject][]uintptr)
)

// CheckedObject is a reference-counted object tracked by the leak checker.
type CheckedObject interface {
	// RefType names the kind of object, e.g. "mutex".
	RefType() string

	// LeakMessage describes the object in a leak report.
	LeakMessage() string

	// LogRefs reports whether reference changes of this object are logged.
	LogRefs() bool
}

// LeakCheckEnabled returns whether leak checking is enabled.
func LeakCheckEnabled() bool {
	return GetLeakMode() != NoLeakChecking
}

// Register starts tracking obj. Registering a live object twice panics.
func Register(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	var pcs []uintptr
	if obj.LogRefs() {
		pcs = RecordStack()
	}
	liveMu.Lock()
	_, dup := live[obj]
	if !dup {
		live[obj] = pcs
	}
	liveMu.Unlock()
	if dup {
		panic(fmt.Sprintf("%s %p registered twice for leak checking", obj.RefType(), obj))
	}
	if pcs != nil {
		logEvent(obj, "registered", pcs)
	}
}

// Unregister stops tracking obj. Objects registered while leak checking was
// disabled are ignored.
func Unregister(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	liveMu.Lock()
	_, ok := live[obj]
	delete(live, obj)
	liveMu.Unlock()
	if ok && obj.LogRefs() {
		logEvent(obj, "unregistered", RecordStack())
	}
}

// LogIncRef logs that obj now has refs references.
func LogIncRef(obj CheckedObject, refs int64) {
	logRefChange(obj, "IncRef", refs)
}

// LogDecRef logs that obj now has refs references.
func LogDecRef(obj CheckedObject, refs int64) {
	logRefChange(obj, "DecRef", refs)
}

func logRefChange(obj CheckedObject, op string, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("%s to %d", op, refs), RecordStack())
	}
}

func logEvent(obj CheckedObject, msg string, pcs []uintptr) {
	log.Infof("[%s %p] %s:\n%s", obj.RefType(), obj, msg, FormatStack(pcs))
}

// checkOnce limits DoLeakCheck to one report per process, however many
// shutdown paths reach it.
var checkOnce sync.Once

// DoLeakCheck reports every object still registered. Only the first call
// does anything.
func DoLeakCheck() {
	if LeakCheckEnabled() {
		checkOnce.Do(func() { doLeakCheck() })
	}
}

// DoRepeatedLeakCheck reports every object still registered and returns how
// many there are. Unlike DoLeakCheck it may be called any number of times.
func DoRepeatedLeakCheck() int {
	if LeakCheckEnabled() {
		return doLeakCheck()
	}
	return 0
}

func doLeakCheck() int {
	liveMu.Lock()
	reports := make([]string, 0, len(live))
	for obj, pcs := range live {
		r := obj.LeakMessage()
		if pcs != nil {
			r += "\nregistered at:\n" + FormatStack(pcs)
		}
		reports = append(reports, r)
	}
	liveMu.Unlock()
	if len(reports) == 0 {
		return 0
	}
	sort.Strings(reports)
	msg := fmt.Sprintf("leak check found %d live objects:\n%s", len(reports), strings.Join(reports, "\n"))
	if GetLeakMode() == LeaksPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
	return len(reports)
}
