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

// Package flag wraps the standard flag package so that every kmux package
// shares one flag set type.
package flag

import (
	"flag"
	"fmt"
)

// FlagSet is an alias for flag.FlagSet.
type FlagSet = flag.FlagSet

// Flag is an alias for flag.Flag.
type Flag = flag.Flag

// Value is an alias for flag.Value.
type Value = flag.Value

// Getter is an alias for flag.Getter.
type Getter = flag.Getter

// Error handling modes.
const (
	ContinueOnError = flag.ContinueOnError
	ExitOnError     = flag.ExitOnError
	PanicOnError    = flag.PanicOnError
)

// CommandLine is the default set of command line flags.
var CommandLine = flag.CommandLine

// Aliases for the standard flag functions.
var (
	Bool       = flag.Bool
	Lookup     = flag.Lookup
	NewFlagSet = flag.NewFlagSet
	Parse      = flag.Parse
)

// Get returns the typed value held by v. Every flag kmux registers holds a
// Getter.
func Get(v Value) any {
	g, ok := v.(Getter)
	if !ok {
		panic(fmt.Sprintf("flag value %T does not implement flag.Getter", v))
	}
	return g.Get()
}
