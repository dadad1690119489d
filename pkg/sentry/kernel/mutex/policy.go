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
	"fmt"
)

// Policy selects how Delete treats contract violations: deleting an unknown
// handle, or one the calling task holds no reference to.
type Policy int

const (
	// PolicyPanic halts with a diagnostic. A violation is a programming
	// error in the caller.
	PolicyPanic Policy = iota

	// PolicyError returns ErrUnknownHandle or ErrNotOwned and leaves the
	// registry unchanged.
	PolicyError
)

// Set implements flag.Value.
func (p *Policy) Set(v string) error {
	switch v {
	case "panic":
		*p = PolicyPanic
	case "error":
		*p = PolicyError
	default:
		return fmt.Errorf("invalid delete policy %q", v)
	}
	return nil
}

// Get implements flag.Getter.
func (p *Policy) Get() any {
	return *p
}

// String implements flag.Value.
func (p Policy) String() string {
	switch p {
	case PolicyPanic:
		return "panic"
	case PolicyError:
		return "error"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Options configures a Registry.
type Options struct {
	// Policy is the delete violation policy.
	Policy Policy

	// LogRefs logs each reference change of a mutex, with the stack that
	// made it, while leak checking is enabled.
	LogRefs bool
}
