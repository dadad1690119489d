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

package log

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("written lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	tw := &testWriter{}
	l := BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warningf("warning %d", 3)

	want := []string{"info 2", "\n", "warning 3", "\n"}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("logged lines mismatch (-want +got):\n%s", diff)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(Warning, ts, "mutex %q: table full", "L")

	if len(tw.lines) != 1 {
		t.Fatalf("got %d writes, want 1: %q", len(tw.lines), tw.lines)
	}
	got := tw.lines[0]
	if !strings.HasPrefix(got, "W0304 05:06:07.000008 ") {
		t.Errorf("header mismatch: %q", got)
	}
	if !strings.HasSuffix(got, `x:0] mutex "L": table full`+"\n") {
		t.Errorf("message mismatch: %q", got)
	}
}

func TestJSONEmitter(t *testing.T) {
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	e.Emit(Debug, ts, "created handle %d", 7)

	if len(tw.lines) == 0 {
		t.Fatalf("nothing written")
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", tw.lines[0], err)
	}
	want := jsonLog{Msg: "created handle 7", Level: Debug, Time: ts}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("json log mismatch (-want +got):\n%s", diff)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &testWriter{}, &testWriter{}
	m := MultiEmitter{&Writer{Next: a}, &Writer{Next: b}}
	m.Emit(Info, time.Now(), "hello\n")
	for i, tw := range []*testWriter{a, b} {
		if diff := cmp.Diff([]string{"hello\n"}, tw.lines); diff != "" {
			t.Errorf("emitter %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRateLimitedLogger(t *testing.T) {
	tw := &testWriter{}
	base := &BasicLogger{Level: Warning, Emitter: &Writer{Next: tw}}
	rl := RateLimitedLogger(base, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("contended %d\n", i)
	}
	if diff := cmp.Diff([]string{"contended 0\n"}, tw.lines); diff != "" {
		t.Errorf("rate limited output mismatch (-want +got):\n%s", diff)
	}
}

func TestRateLimitedLoggerReportsSuppressed(t *testing.T) {
	tw := &testWriter{}
	base := &BasicLogger{Level: Info, Emitter: &Writer{Next: tw}}
	rl := &rateLimitedLogger{logger: base, limit: rate.NewLimiter(0, 1)}
	for i := 0; i < 4; i++ {
		rl.Warningf("contended %d\n", i)
	}
	// Below the level: neither written nor counted.
	rl.Debugf("spinning\n")
	rl.limit.SetLimit(rate.Inf)
	rl.Warningf("contended %d\n", 4)
	rl.Infof("contended %d\n", 5)

	want := []string{
		"contended 0\n",
		"(3 similar messages suppressed) contended 4\n",
		"contended 5\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("rate limited output mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelJSON(t *testing.T) {
	for _, l := range []Level{Warning, Info, Debug} {
		b, err := json.Marshal(l)
		if err != nil {
			t.Fatalf("json.Marshal(%v): %v", l, err)
		}
		var got Level
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("json.Unmarshal(%s): %v", b, err)
		}
		if got != l {
			t.Errorf("level %v round tripped to %v", l, got)
		}
	}
	var l Level
	if err := json.Unmarshal([]byte("2"), &l); err != nil || l != Debug {
		t.Errorf("json.Unmarshal(2) = %v, %v; want Debug", l, err)
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("json.Marshal(Level(7)) succeeded")
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "warning", want: Warning},
		{in: "Info", want: Info},
		{in: "2", want: Debug},
		{in: "verbose", wantErr: true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
