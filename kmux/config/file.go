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

package config

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"gvisor.dev/kmux/kmux/flag"
)

// file is the layout of a kmux configuration file.
type file struct {
	// KmuxConfig holds flag values. Each key is converted to --key=value.
	KmuxConfig map[string]string `toml:"kmux_config"`
}

// LoadFile reads the flag values in the TOML file at path.
func LoadFile(path string) (map[string]string, error) {
	var f file
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}
	return f.KmuxConfig, nil
}

// ApplyFile overrides c with the values of c.ConfigFile, except for flags
// that were set explicitly in flagSet. It does nothing if c.ConfigFile is
// empty.
func (c *Config) ApplyFile(flagSet *flag.FlagSet) error {
	if c.ConfigFile == "" {
		return nil
	}
	values, err := LoadFile(c.ConfigFile)
	if err != nil {
		return err
	}
	return c.apply(flagSet, values)
}

func (c *Config) apply(flagSet *flag.FlagSet, values map[string]string) error {
	explicit := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if explicit[name] {
			continue
		}
		if err := c.Override(flagSet, name, values[name]); err != nil {
			return fmt.Errorf("config file %q: %w", c.ConfigFile, err)
		}
	}
	return nil
}
