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

// Package config provides basic infrastructure to set configuration settings
// for kmux. Each setting that can be changed from outside (flags, config
// file) should be added to the Config struct.
package config

import (
	"fmt"
	"reflect"
	"time"

	"gvisor.dev/kmux/pkg/log"
	"gvisor.dev/kmux/pkg/refs"
	"gvisor.dev/kmux/pkg/sentry/kernel"
	"gvisor.dev/kmux/pkg/sentry/kernel/mutex"
)

// Config holds configuration that is not part of a workload. Fields are
// populated from flags of the same name.
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format"`

	// DebugLog is the path to log debug information to, if not empty.
	DebugLog string `flag:"debug-log"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// CPUs is the number of simulated CPUs.
	CPUs int `flag:"cpus"`

	// DeletePolicy selects how a bad mutex delete is handled.
	DeletePolicy mutex.Policy `flag:"delete-policy"`

	// LockTimeout bounds the lock syscall's wait. Zero waits forever.
	LockTimeout time.Duration `flag:"lock-timeout"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode"`

	// RefLog logs every mutex reference change with a stack trace. It only
	// has an effect when leak checking is enabled.
	RefLog bool `flag:"ref-log"`

	// ConfigFile is a TOML file whose [kmux_config] table overrides flag
	// defaults.
	ConfigFile string `flag:"config"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.CPUs <= 0 || c.CPUs > kernel.NPROC {
		return fmt.Errorf("--cpus must be between 1 and %d, got %d", kernel.NPROC, c.CPUs)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("--lock-timeout must not be negative, got %v", c.LockTimeout)
	}
	return nil
}

// KernelConfig returns the kernel configuration c describes.
func (c *Config) KernelConfig() kernel.Config {
	return kernel.Config{
		CPUs:        c.CPUs,
		Mutex:       mutex.Options{Policy: c.DeletePolicy, LogRefs: c.RefLog},
		LockTimeout: c.LockTimeout,
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if name, ok := f.Tag.Lookup("flag"); ok {
			log.Infof("\t%s (--%s): %s", f.Name, name, getVal(obj.Field(i)))
		}
	}
}
