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

package main

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/kingpin"
	"github.com/transparency-dev/safe-firm-installer/internal/bootenv"
	"github.com/transparency-dev/safe-firm-installer/internal/edition"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
)

const (
	yes  = "yes"
	no   = "no"
	auto = "auto"
)

// options holds the parsed command line.
type options struct {
	MediumDir       string
	Edition         string
	EditionFile     string
	EditionVerifier string
	Flash           string
	PlainKeyslots   []flash.Keyslot
	EnvFile         string
	A9LH            string
	Sighax          string
	LegacyModel     string
	Simulate        bool
	FailTest        bool
	MetricsFile     string
	ProgressBars    bool
	Verbosity       string
}

func cliParse(args []string) (opts options, err error) {
	app := kingpin.New("firminstall", "Safely installs a FIRM image to both firmware slots, with verified backup and rollback.")
	app.Version(version)
	app.Flag("medium_dir", "Root directory of the removable medium holding the input and backup files.").Required().StringVar(&opts.MediumDir)
	app.Flag("edition", "Built-in edition to install.").Default("retail").EnumVar(&opts.Edition, edition.Builtins...)
	app.Flag("edition_file", "YAML edition file, overrides --edition.").StringVar(&opts.EditionFile)
	app.Flag("edition_verifier", "File containing a note verifier key; --edition_file must be signed by it.").StringVar(&opts.EditionVerifier)
	app.Flag("flash", "Flash device node or image file.").Required().StringVar(&opts.Flash)
	plain := app.Flag("plain_keyslot", "Keyslot whose view of --flash is unenciphered, e.g. 0x06. May be repeated.").Strings()
	app.Flag("env_file", "INI file describing the boot environment.").StringVar(&opts.EnvFile)
	app.Flag("a9lh", "Whether the legacy boot hack is installed. Choices: auto (default, from --env_file), yes, no").Default(auto).EnumVar(&opts.A9LH, auto, yes, no)
	app.Flag("sighax", "Whether the device already boots a signature-exploited FIRM. Choices: auto (default), yes, no").Default(auto).EnumVar(&opts.Sighax, auto, yes, no)
	app.Flag("legacy_model", "Whether the device is the legacy hardware model. Choices: auto (default), yes, no").Default(auto).EnumVar(&opts.LegacyModel, auto, yes, no)
	app.Flag("simulate", "Run against a copy-on-write view of --flash; nothing is written to it.").BoolVar(&opts.Simulate)
	app.Flag("fail_test", "Corrupt the second slot install write to exercise rollback. Requires --simulate.").BoolVar(&opts.FailTest)
	app.Flag("metrics_file", "Write Prometheus metrics for the run to this file.").StringVar(&opts.MetricsFile)
	app.Flag("progress", "Show progress bars.").Default("true").BoolVar(&opts.ProgressBars)
	app.Flag("v", "Log verbosity.").Default("0").StringVar(&opts.Verbosity)

	if _, err := app.Parse(args); err != nil {
		return opts, fmt.Errorf("error: %w, try --help", err)
	}

	for _, s := range *plain {
		ks, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return opts, fmt.Errorf("error: invalid --plain_keyslot %q, try --help", s)
		}
		opts.PlainKeyslots = append(opts.PlainKeyslots, flash.Keyslot(ks))
	}
	if opts.FailTest && !opts.Simulate {
		return opts, fmt.Errorf("error: --fail_test requires --simulate, try --help")
	}
	if opts.EditionVerifier != "" && opts.EditionFile == "" {
		return opts, fmt.Errorf("error: --edition_verifier requires --edition_file, try --help")
	}
	return opts, nil
}

// envProber reads the boot environment from an optional state file and
// applies the command line overrides on top.
type envProber struct {
	file                      string
	a9lh, sighax, legacyModel string
}

func (p envProber) Probe() (bootenv.Environment, error) {
	var env bootenv.Environment
	var err error
	if p.file != "" {
		env, err = bootenv.File(p.file).Probe()
	}
	override(&env.A9LH, p.a9lh)
	override(&env.Sighax, p.sighax)
	override(&env.LegacyModel, p.legacyModel)
	return env, err
}

func override(b *bool, v string) {
	switch v {
	case yes:
		*b = true
	case no:
		*b = false
	}
}
