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
	"fmt"
	"io"
	"os"
	"time"

	"gvisor.dev/kmux/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages are
// consumed by the user and are written alongside stderr.
var ErrorLogger io.Writer

// Fatalf logs the same message as Errorf and exits with a non-zero status.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	os.Exit(128)
}

// Errorf logs an error to the debug log and writes it to stderr and to
// ErrorLogger, if set.
func Errorf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	writeError(os.Stderr, format, args...)
	if ErrorLogger != nil {
		writeError(ErrorLogger, format, args...)
	}
}

func writeError(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s kmux: %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
}

// Infof writes a message for the user to stderr and logs it.
func Infof(format string, args ...any) {
	log.Infof(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
