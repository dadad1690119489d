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

package metric

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// reset clears all global state in the metric package.
func reset() {
	allMetrics = makeMetricSet()
}

func TestRegisterNames(t *testing.T) {
	defer reset()

	if _, err := NewUint64Metric("/foo", "Foo!"); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := NewUint64Metric("/foo", "Foo again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	if err := RegisterCustomUint64Metric("/foo", false, "custom", func() uint64 { return 0 }); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate RegisterCustomUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	for _, bad := range []string{"", "foo", "/", "/Foo", "/foo/", "/foo-bar"} {
		if _, err := NewUint64Metric(bad, "bad"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("NewUint64Metric(%q) got err %v want %v", bad, err, ErrInvalidName)
		}
	}
}

func TestFields(t *testing.T) {
	defer reset()

	if _, err := NewUint64Metric("/nofield", "x", NewField("result")); !errors.Is(err, ErrFieldHasNoAllowedValues) {
		t.Errorf("NewUint64Metric got err %v want %v", err, ErrFieldHasNoAllowedValues)
	}

	m := MustCreateNewUint64Metric("/ops", "Ops", NewField("op", "create", "delete"))
	m.Increment("create")
	m.IncrementBy(3, "delete")
	if got := m.Value("create"); got != 1 {
		t.Errorf("Value(create) got %d want 1", got)
	}
	if got := m.Value("delete"); got != 3 {
		t.Errorf("Value(delete) got %d want 3", got)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Increment with a disallowed field value did not panic")
		}
	}()
	m.Increment("lock")
}

func TestDistribution(t *testing.T) {
	defer reset()

	if _, err := NewDistributionMetric("/bad", "bad", []uint64{4, 2}); !errors.Is(err, ErrBadBuckets) {
		t.Errorf("NewDistributionMetric got err %v want %v", err, ErrBadBuckets)
	}

	d := MustCreateNewDistributionMetric("/spins", "Spins", ExponentialBuckets(1, 4, 3))
	for _, s := range []uint64{0, 1, 3, 16, 100} {
		d.AddSample(s)
	}
	if got := d.Count(); got != 5 {
		t.Errorf("Count got %d want 5", got)
	}
	if got := d.Sum(); got != 120 {
		t.Errorf("Sum got %d want 120", got)
	}
	// Bounds 1, 4, 16; 100 lands in the overflow bucket.
	if diff := cmp.Diff([]uint64{2, 3, 4}, d.cumulativeCounts()); diff != "" {
		t.Errorf("cumulative counts mismatch (-want +got):\n%s", diff)
	}
}

func TestWritePrometheus(t *testing.T) {
	defer reset()

	creates := MustCreateNewUint64Metric("/mutex/creates", "Mutex creates.")
	creates.IncrementBy(2)
	MustRegisterCustomUint64Metric("/mutex/live", false, "Live mutexes.", func() uint64 { return 5 })
	MustCreateNewDistributionMetric("/mutex/lock_spins", "Spins per lock.", []uint64{1, 10}).AddSample(3)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE kmux_mutex_creates counter",
		"kmux_mutex_creates 2",
		"# TYPE kmux_mutex_live gauge",
		"kmux_mutex_live 5",
		"# TYPE kmux_mutex_lock_spins histogram",
		`kmux_mutex_lock_spins_bucket{le="10"} 1`,
		"kmux_mutex_lock_spins_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "kmux_mutex_creates") > strings.Index(out, "kmux_mutex_live") {
		t.Errorf("metrics not sorted by name:\n%s", out)
	}
}
