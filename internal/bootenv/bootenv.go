// Copyright 2024 The Safe FIRM Installer authors. All Rights Reserved.
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

// Package bootenv describes the boot environment of the device the
// installer runs on.
package bootenv

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Environment is the state of the device's boot chain.
type Environment struct {
	// A9LH is set when the legacy boot hack is present.
	A9LH bool
	// Sighax is set when the device already boots a signature-exploited
	// FIRM.
	Sighax bool
	// LegacyModel is set on the original (non-"New") hardware model.
	LegacyModel bool
}

// HackInstalled returns true if the legacy boot hack is installed and must
// be removed, which involves backing up and reverting the secret sector.
func (e Environment) HackInstalled() bool {
	return e.A9LH && !e.Sighax
}

// SectorRequired returns true if the secret sector file must be supplied.
// The legacy model reverts the sector to zeros instead.
func (e Environment) SectorRequired() bool {
	return e.HackInstalled() && !e.LegacyModel
}

func (e Environment) String() string {
	return fmt.Sprintf("a9lh=%t sighax=%t legacy_model=%t", e.A9LH, e.Sighax, e.LegacyModel)
}

// Prober reports the boot environment.
type Prober interface {
	Probe() (Environment, error)
}

// Probe implements Prober by returning e.
func (e Environment) Probe() (Environment, error) {
	return e, nil
}

// File is a Prober reading an INI state file:
//
//	[boot]
//	a9lh = true
//	sighax = false
//
//	[device]
//	legacy_model = false
type File string

// Probe implements Prober.
func (f File) Probe() (Environment, error) {
	return Load(string(f))
}

// Load reads the INI state file at path.
func Load(path string) (Environment, error) {
	c, err := ini.Load(path)
	if err != nil {
		return Environment{}, fmt.Errorf("cannot load %s: %w", path, err)
	}
	return parse(c)
}

// Parse reads an INI state file from b.
func Parse(b []byte) (Environment, error) {
	c, err := ini.Load(b)
	if err != nil {
		return Environment{}, err
	}
	return parse(c)
}

func parse(c *ini.File) (Environment, error) {
	var e Environment
	for _, k := range []struct {
		section, key string
		v            *bool
	}{
		{"boot", "a9lh", &e.A9LH},
		{"boot", "sighax", &e.Sighax},
		{"device", "legacy_model", &e.LegacyModel},
	} {
		key := c.Section(k.section).Key(k.key)
		if key.String() == "" {
			continue
		}
		b, err := key.Bool()
		if err != nil {
			return Environment{}, fmt.Errorf("[%s] %s: %v", k.section, k.key, err)
		}
		*k.v = b
	}
	return e, nil
}
