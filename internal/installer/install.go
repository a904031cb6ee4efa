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

package installer

import (
	"fmt"
	"io"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/firm"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"github.com/transparency-dev/safe-firm-installer/internal/medium"
	"github.com/transparency-dev/safe-firm-installer/internal/metrics"
	"github.com/transparency-dev/safe-firm-installer/internal/safewrite"
	"k8s.io/klog/v2"
)

// flashWrite is a single write planned by the install phase.
type flashWrite struct {
	name   string
	region flash.Partition
	data   []byte
	ks     flash.Keyslot
}

// plan returns the flash writes of the install phase, in order.
func (t *Transaction) plan() []flashWrite {
	img := t.img[:t.imgSize]
	p := []flashWrite{
		{name: "FIRM install (1/2)", region: t.firm0, data: img, ks: t.firm0.Keyslot},
		{name: "FIRM install (2/2)", region: t.firm1, data: img, ks: t.firm1.Keyslot},
	}
	if t.env.HackInstalled() {
		w := flashWrite{name: "sector revert", region: t.sector, data: t.sectorB, ks: t.sector.Keyslot}
		if !t.env.SectorRequired() {
			// The legacy model reverts to a blank sector, written raw.
			w.data = make([]byte, firm.SecretSectorSize)
			w.ks = flash.RawKeyslot
		}
		p = append(p, w)
	}
	return p
}

// install performs the planned writes, stopping at the first failure.
func (t *Transaction) install() error {
	t.set(api.StepInstall, api.SeverityNeutral, "FIRM install...")
	plan := t.plan()
	for i, w := range plan {
		if t.coveringBackup(w.region.Start, len(w.data)) == nil {
			t.set(api.StepInstall, api.SeverityError, "install failed")
			return api.Errorf(api.WriteVerifyFailed, "no backup covers %v", w.region)
		}
		t.touched = append(t.touched, w.region)
		write, read := safewrite.Flash(t.cfg.Flash, w.ks)
		if err := t.sw.WriteAndVerify(w.data, int64(w.region.Start), write, read); err != nil {
			klog.Errorf("%s at %v: %v", w.name, w.region, err)
			t.m.VerifyFailed(metrics.TargetFlash)
			t.set(api.StepInstall, api.SeverityError, "install failed")
			if t.env.HackInstalled() {
				t.set(api.StepEnvironment, api.SeverityError, "at risk")
			}
			return err
		}
		t.m.BytesWritten(metrics.TargetFlash, api.PhaseInstall.String(), len(w.data))
		t.rep.Progress("FIRM install", int64(i+1), int64(len(plan)))
		if w.region == t.sector {
			t.set(api.StepEnvironment, api.SeverityOK, "uninstalled")
		}
		t.set(api.StepInstall, api.SeverityNeutral, "%s", w.name)
	}
	t.set(api.StepInstall, api.SeverityOK, "install success!")
	return nil
}

// rollback restores every region the install phase attempted to write from
// its backup.
func (t *Transaction) rollback() error {
	t.set(api.StepBackup, api.SeverityWarning, "FIRM restore...")
	for _, r := range t.touched {
		b := t.coveringBackup(r.Start, int(r.Length))
		if b == nil {
			t.fatal()
			return api.Errorf(api.RollbackFailed, "no backup covers %v", r)
		}
		if err := t.restore(b); err != nil {
			t.fatal()
			return err
		}
		if r == t.sector {
			t.set(api.StepEnvironment, api.SeverityWarning, "restored")
		}
	}
	t.set(api.StepBackup, api.SeverityWarning, "backup restored")
	t.set(api.StepInstall, api.SeverityWarning, "reverted system")
	return nil
}

func (t *Transaction) fatal() {
	t.set(api.StepBackup, api.SeverityError, "restore failed")
	t.set(api.StepEnvironment, api.SeverityError, "unrecoverable")
}

// restore writes a backup back to flash raw, chunk by chunk, checking each
// chunk read from the medium against the digest taken at backup time.
func (t *Transaction) restore(b *BackupRecord) error {
	f, err := t.cfg.Medium.Open(b.File)
	if err != nil {
		return api.Wrap(api.RollbackFailed, err, "cannot open "+b.File)
	}
	defer f.Close()

	write, read := safewrite.Flash(t.cfg.Flash, flash.RawKeyslot)
	var done int64
	for i, d := range b.Digests {
		n := b.ChunkSize
		if rem := int64(b.Region.Length) - done; rem < int64(n) {
			n = int(rem)
		}
		buf := t.work[:n]
		if err := readFull(f, buf, b.Offset+done); err != nil {
			return api.Wrap(api.RollbackFailed, err, "backup read failed")
		}
		if !t.ds.Equal(t.ds.Sum(buf), d) {
			return api.Errorf(api.RollbackFailed, "backup chunk %d of %v corrupt", i, b.Region)
		}
		off := int64(b.Region.Start) + done
		if err := t.sw.WriteAndVerify(buf, off, write, read); err != nil {
			t.m.VerifyFailed(metrics.TargetFlash)
			return api.Wrap(api.RollbackFailed, err, fmt.Sprintf("restore at 0x%x failed", off))
		}
		t.m.BytesWritten(metrics.TargetFlash, api.PhaseRollback.String(), n)
		done += int64(n)
		t.rep.Progress("FIRM restore", done, int64(b.Region.Length))
	}
	klog.Infof("Restored %v from %s", b.Region, b.File)
	return nil
}

func readFull(f medium.File, b []byte, off int64) error {
	_, err := io.ReadFull(io.NewSectionReader(f, off, int64(len(b))), b)
	return err
}
