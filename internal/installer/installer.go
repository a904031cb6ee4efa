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

// Package installer runs the install transaction: it checks the
// environment and every input, asks for confirmation, backs up the flash
// regions it is about to overwrite, installs, and restores the backups if
// installing fails.
//
// No flash write is issued unless a verified backup covers the range being
// written. A Transaction owns the flash device and the medium for the
// duration of Run; concurrent use of either is undefined.
package installer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/firm"
	"github.com/transparency-dev/safe-firm-installer/internal/bootenv"
	"github.com/transparency-dev/safe-firm-installer/internal/confirm"
	"github.com/transparency-dev/safe-firm-installer/internal/edition"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"github.com/transparency-dev/safe-firm-installer/internal/medium"
	"github.com/transparency-dev/safe-firm-installer/internal/metrics"
	"github.com/transparency-dev/safe-firm-installer/internal/safewrite"
	"k8s.io/klog/v2"
)

// DefaultWorkBufferSize is the size of the buffer used to copy flash regions
// to and from the medium.
const DefaultWorkBufferSize = 1 << 20

// Reporter presents the progress of a transaction.
type Reporter interface {
	// Update is called with the full report whenever it changes.
	Update(r api.Report)
	// Progress is called as a long running task copies data.
	Progress(task string, done, total int64)
}

type nopReporter struct{}

func (nopReporter) Update(api.Report)              {}
func (nopReporter) Progress(string, int64, int64) {}

// Config holds the collaborators of a Transaction.
type Config struct {
	Edition *edition.Edition
	Flash   flash.Device
	Medium  medium.Store
	Env     bootenv.Prober
	Gate    confirm.Gate
}

// Option configures a Transaction.
type Option func(*Transaction)

// WithReporter sets the Reporter; by default nothing is reported.
func WithReporter(r Reporter) Option {
	return func(t *Transaction) { t.rep = r }
}

// WithDigest sets the digest service; digest.SHA256 by default.
func WithDigest(ds digest.Service) Option {
	return func(t *Transaction) { t.ds = ds }
}

// WithMetrics sets where metrics are recorded.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transaction) { t.m = m }
}

// WithWorkBufferSize sets the size of the work buffer.
func WithWorkBufferSize(n int) Option {
	return func(t *Transaction) { t.workSize = n }
}

// WithToken sets the function generating the unlock phrase; by default
// confirm.NewToken.
func WithToken(f func() string) Option {
	return func(t *Transaction) { t.token = f }
}

// BackupRecord describes a verified copy of a flash region on the medium.
type BackupRecord struct {
	// Region is the flash range covered, accessed raw.
	Region flash.Partition
	// File is the backup file name on the medium and Offset the position of
	// the region within it.
	File   string
	Offset int64
	// ChunkSize is the size of every chunk but the last.
	ChunkSize int
	// Digests holds the digest of each chunk of the region.
	Digests []digest.Digest
}

// Covers returns true if the record covers every byte in [off, off+n).
func (b *BackupRecord) Covers(off uint64, n int) bool {
	return off >= b.Region.Start && off+uint64(n) <= b.Region.End()
}

// Transaction is a single run of the installer.
type Transaction struct {
	cfg      Config
	rep      Reporter
	ds       digest.Service
	m        *metrics.Metrics
	workSize int
	token    func() string

	v  *firm.Validator
	sw *safewrite.Verifier

	firm0, firm1, sector flash.Partition

	// Buffers, allocated once.
	img     []byte
	sectorB []byte
	work    []byte

	report     *api.Report
	phaseStart time.Time
	env        bootenv.Environment
	envErr     error
	imgSize    int
	backups    []*BackupRecord
	// touched lists the regions the install phase attempted to write.
	touched []flash.Partition
}

// New returns a Transaction ready to Run.
func New(cfg Config, opts ...Option) (*Transaction, error) {
	t := &Transaction{
		cfg:      cfg,
		rep:      nopReporter{},
		ds:       digest.SHA256,
		workSize: DefaultWorkBufferSize,
		token:    confirm.NewToken,
		report:   api.NewReport(),
	}
	for _, o := range opts {
		o(t)
	}

	switch {
	case cfg.Edition == nil:
		return nil, errors.New("no edition")
	case cfg.Flash == nil:
		return nil, errors.New("no flash device")
	case cfg.Medium == nil:
		return nil, errors.New("no medium")
	case cfg.Env == nil:
		return nil, errors.New("no environment prober")
	case cfg.Gate == nil:
		return nil, errors.New("no confirmation gate")
	case t.workSize < firm.SecretSectorSize:
		return nil, fmt.Errorf("work buffer of %d bytes is too small", t.workSize)
	}
	if err := cfg.Edition.Validate(); err != nil {
		return nil, err
	}
	m, err := cfg.Edition.Map(uint64(cfg.Flash.Size()))
	if err != nil {
		return nil, err
	}
	for _, p := range []struct {
		name string
		dst  *flash.Partition
	}{
		{edition.PartitionFirm0, &t.firm0},
		{edition.PartitionFirm1, &t.firm1},
		{edition.PartitionSecretSector, &t.sector},
	} {
		if *p.dst, err = m.Lookup(p.name); err != nil {
			return nil, err
		}
	}

	t.v = firm.NewValidator(t.ds)
	t.img = make([]byte, firm.MaxSize)
	t.sectorB = make([]byte, firm.SecretSectorSize)
	t.work = make([]byte, t.workSize)
	scratch := firm.MaxSize
	if t.workSize > scratch {
		scratch = t.workSize
	}
	t.sw = safewrite.NewVerifier(t.ds, scratch)
	return t, nil
}

// Run executes the transaction and returns the final report.
//
// The returned error is nil only on success; otherwise it is an *api.Error
// matching the outcome. ctx is only honoured up to the confirmation gate:
// once the operator has confirmed, the transaction runs to completion.
func (t *Transaction) Run(ctx context.Context) (*api.Report, error) {
	if t.report.Phase != api.PhaseInit {
		return nil, errors.New("transaction already run")
	}
	t.phaseStart = time.Now()
	t.update()

	for _, step := range []struct {
		phase api.Phase
		fn    func(context.Context) error
	}{
		{api.PhaseCheckEnvironment, t.checkEnvironment},
		{api.PhaseCheckMedium, t.checkMedium},
		{api.PhaseLoadImage, t.loadImage},
		{api.PhaseLoadSecretSector, t.loadSecretSector},
		{api.PhaseCryptoSelfTest, t.cryptoSelfTest},
		{api.PhaseAwaitConfirmation, t.awaitConfirmation},
	} {
		if err := ctx.Err(); err != nil {
			return t.abort(api.Wrap(api.UserCancelled, err, "interrupted"))
		}
		t.enter(step.phase)
		if err := step.fn(ctx); err != nil {
			return t.abort(err)
		}
	}

	// Point of no return.
	t.enter(api.PhaseBackup)
	if err := t.backup(); err != nil {
		return t.abort(err)
	}

	t.enter(api.PhaseInstall)
	installErr := t.install()
	if installErr == nil {
		return t.finish(api.PhaseSuccess, api.OutcomeSuccess, nil)
	}
	klog.Errorf("Install failed: %v", installErr)

	t.enter(api.PhaseRollback)
	if err := t.rollback(); err != nil {
		klog.Errorf("Rollback failed: %v", err)
		return t.finish(api.PhaseFatal, api.OutcomeFatal, err)
	}
	return t.finish(api.PhaseRolledBack, api.OutcomeRolledBack, installErr)
}

func (t *Transaction) update() {
	t.rep.Update(*t.report)
}

func (t *Transaction) set(s api.Step, sev api.Severity, format string, args ...interface{}) {
	t.report.Set(s, sev, format, args...)
	t.update()
}

func (t *Transaction) enter(p api.Phase) {
	now := time.Now()
	t.m.PhaseDone(t.report.Phase.String(), now.Sub(t.phaseStart))
	t.phaseStart = now
	klog.V(1).Infof("%v -> %v", t.report.Phase, p)
	t.report.Phase = p
	t.update()
}

func (t *Transaction) abort(err error) (*api.Report, error) {
	return t.finish(api.PhaseAborted, api.OutcomeAborted, err)
}

func (t *Transaction) finish(p api.Phase, o api.Outcome, err error) (*api.Report, error) {
	t.report.Outcome = o
	switch o {
	case api.OutcomeSuccess:
	case api.OutcomeRolledBack:
		t.report.Reason = "install failed, backup restored: " + api.ReasonOf(err)
	case api.OutcomeFatal:
		t.report.Reason = fmt.Sprintf("%s. DO NOT POWER OFF. Flash contents are indeterminate; recover manually from %s and %s on the medium", api.ReasonOf(err), t.cfg.Edition.Files.FirmBackup, t.cfg.Edition.Files.SectorBackup)
		err = api.Wrap(api.RollbackFailed, err, "rollback failed")
	default:
		t.report.Reason = api.ReasonOf(err)
	}
	t.enter(p)
	t.m.Outcome(o.String())
	klog.Infof("Outcome: %v", o)
	r := *t.report
	return &r, err
}
