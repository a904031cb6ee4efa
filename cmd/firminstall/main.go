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

// The firminstall tool installs a FIRM image to both firmware slots of a
// device, backing up everything it overwrites to the removable medium first
// and restoring from that backup if the install fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/internal/confirm"
	"github.com/transparency-dev/safe-firm-installer/internal/console"
	"github.com/transparency-dev/safe-firm-installer/internal/edition"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"github.com/transparency-dev/safe-firm-installer/internal/installer"
	"github.com/transparency-dev/safe-firm-installer/internal/medium"
	"github.com/transparency-dev/safe-firm-installer/internal/metrics"
	"k8s.io/klog/v2"
)

// version is the installer version checked against an edition's
// min_installer_version. Overridden at build time with -ldflags.
var version = "1.4.0"

// Exit codes, one per outcome.
const (
	exitSuccess    = 0
	exitAborted    = 1
	exitRolledBack = 2
	exitFatal      = 3
	exitUsage      = 64
)

func main() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)

	opts, err := cliParse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	if err := klogFlags.Set("v", opts.Verbosity); err != nil {
		klog.Exitf("Invalid verbosity %q: %v", opts.Verbosity, err)
	}

	// Interrupts are caught for the whole run; once the backup has started
	// they are logged and otherwise ignored.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		klog.Warning("Interrupt received; the install stops only if no backup has started yet")
	}()

	code := run(ctx, opts)
	klog.Flush()
	os.Exit(code)
}

func run(ctx context.Context, opts options) int {
	ed, err := edition.Select(opts.Edition, opts.EditionFile, opts.EditionVerifier)
	if err != nil {
		klog.Exitf("Failed to load edition: %v", err)
	}
	if err := ed.CheckInstallerVersion(version); err != nil {
		klog.Exitf("Edition %q: %v", ed.Name, err)
	}
	klog.Infof("Using edition %q", ed.Name)

	dev, closeFlash, err := openFlash(ed, opts)
	if err != nil {
		klog.Exitf("Failed to open flash %q: %v", opts.Flash, err)
	}
	defer func() {
		if err := closeFlash(); err != nil {
			klog.Errorf("Failed to close flash: %v", err)
		}
	}()

	con := console.New(os.Stdout, opts.ProgressBars)
	defer con.Close()

	txOpts := []installer.Option{installer.WithReporter(con)}
	var reg *prometheus.Registry
	if opts.MetricsFile != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		txOpts = append(txOpts, installer.WithMetrics(metrics.New(reg)))
	}

	tx, err := installer.New(installer.Config{
		Edition: ed,
		Flash:   dev,
		Medium:  medium.NewDir(opts.MediumDir),
		Env: envProber{
			file:        opts.EnvFile,
			a9lh:        opts.A9LH,
			sighax:      opts.Sighax,
			legacyModel: opts.LegacyModel,
		},
		Gate: confirm.NewTerminal(os.Stdin, os.Stdout),
	}, txOpts...)
	if err != nil {
		klog.Exitf("Failed to set up install: %v", err)
	}

	report, err := tx.Run(ctx)
	con.Close()
	fmt.Println(report.Print())
	if err != nil {
		klog.Errorf("Install: %v", err)
	}

	if reg != nil {
		if err := metrics.WriteTextfile(opts.MetricsFile, reg); err != nil {
			klog.Errorf("Failed to write metrics to %q: %v", opts.MetricsFile, err)
		}
	}
	return exitCode(report.Outcome)
}

// openFlash opens the flash device named on the command line, wrapped for
// simulation and fault injection as requested.
func openFlash(ed *edition.Edition, opts options) (flash.Device, func() error, error) {
	f, closeFn, err := flash.OpenFile(opts.Flash, !opts.Simulate, opts.PlainKeyslots...)
	if err != nil {
		return nil, nil, err
	}
	if !opts.Simulate {
		return f, closeFn, nil
	}

	o := flash.NewOverlay(f)
	closeOverlay := func() error {
		klog.Infof("Simulation done: %d sectors would have been written", o.Dirty())
		return closeFn()
	}
	if !opts.FailTest {
		return o, closeOverlay, nil
	}
	m, err := ed.Map(uint64(f.Size()))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	p, err := m.Lookup(edition.PartitionFirm1)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	klog.Warningf("Fail test: the first install write to %v will be corrupted", p)
	return flash.NewFaulty(o, flash.FirstWriteTo(p)), closeOverlay, nil
}

func exitCode(o api.Outcome) int {
	switch o {
	case api.OutcomeSuccess:
		return exitSuccess
	case api.OutcomeRolledBack:
		return exitRolledBack
	case api.OutcomeFatal:
		return exitFatal
	}
	return exitAborted
}
