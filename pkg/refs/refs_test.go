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
	"bytes"
	"fmt"
	"strings"
	"testing"

	"gvisor.dev/kmux/pkg/log"
)

type leaky struct {
	name string
}

func (l *leaky) RefType() string     { return "leaky" }
func (l *leaky) LeakMessage() string { return fmt.Sprintf("[leaky %s] leaked", l.name) }
func (l *leaky) LogRefs() bool       { return false }

func withLeakMode(t *testing.T, mode LeakMode) {
	t.Helper()
	old := GetLeakMode()
	SetLeakMode(mode)
	t.Cleanup(func() { SetLeakMode(old) })
}

func TestLeakModeFlag(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want LeakMode
	}{
		{"disabled", NoLeakChecking},
		{"log", LeaksLogWarning},
		{"log-names", LeaksLogWarning},
		{"panic", LeaksPanic},
	} {
		var m LeakMode
		if err := m.Set(tc.in); err != nil {
			t.Fatalf("Set(%q): %v", tc.in, err)
		}
		if m != tc.want {
			t.Errorf("Set(%q) = %v, want %v", tc.in, m, tc.want)
		}
	}
	var m LeakMode
	if err := m.Set("sometimes"); err == nil {
		t.Errorf("Set(sometimes) succeeded")
	}
}

func TestRegisterUnregister(t *testing.T) {
	withLeakMode(t, LeaksLogWarning)
	obj := &leaky{name: "a"}
	Register(obj)
	if got := DoRepeatedLeakCheck(); got != 1 {
		t.Errorf("DoRepeatedLeakCheck() = %d, want 1", got)
	}
	Unregister(obj)
	if got := DoRepeatedLeakCheck(); got != 0 {
		t.Errorf("DoRepeatedLeakCheck() after Unregister = %d, want 0", got)
	}
}

func TestLeakPanics(t *testing.T) {
	withLeakMode(t, LeaksPanic)
	obj := &leaky{name: "b"}
	Register(obj)
	defer Unregister(obj)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("leak check did not panic")
		}
		if !strings.Contains(fmt.Sprint(r), "[leaky b] leaked") {
			t.Errorf("panic message %q does not name the leak", r)
		}
	}()
	DoRepeatedLeakCheck()
}

func TestDisabledIgnoresObjects(t *testing.T) {
	withLeakMode(t, NoLeakChecking)
	Register(&leaky{name: "c"})
	if got := DoRepeatedLeakCheck(); got != 0 {
		t.Errorf("DoRepeatedLeakCheck() = %d, want 0", got)
	}
}

func TestLeakReportKeepsPercent(t *testing.T) {
	withLeakMode(t, LeaksLogWarning)
	var buf bytes.Buffer
	old := log.Log().Emitter
	log.SetTarget(&log.Writer{Next: &buf})
	defer log.SetTarget(old)

	objs := []*leaky{{name: "b%d"}, {name: "a%s"}}
	for _, obj := range objs {
		Register(obj)
		defer Unregister(obj)
	}
	if got := DoRepeatedLeakCheck(); got != 2 {
		t.Fatalf("DoRepeatedLeakCheck() = %d, want 2", got)
	}
	want := "leak check found 2 live objects:\n[leaky a%s] leaked\n[leaky b%d] leaked\n"
	if got := buf.String(); got != want {
		t.Errorf("leak report = %q, want %q", got, want)
	}
}
