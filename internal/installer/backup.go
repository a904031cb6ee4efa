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

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"github.com/transparency-dev/safe-firm-installer/internal/metrics"
	"github.com/transparency-dev/safe-firm-installer/internal/safewrite"
	"k8s.io/klog/v2"
)

// raw returns p as accessed without a cipher.
func raw(p flash.Partition) flash.Partition {
	p.Keyslot = flash.RawKeyslot
	return p
}

// backup copies every region the install phase may write to the medium. No
// flash write happens here.
func (t *Transaction) backup() error {
	files := t.cfg.Edition.Files
	t.set(api.StepBackup, api.SeverityNeutral, "FIRM backup...")
	if err := t.backupRegions(files.FirmBackup, "FIRM backup", raw(t.firm0), raw(t.firm1)); err != nil {
		t.set(api.StepBackup, api.SeverityError, "FIRM backup fail")
		return err
	}
	if t.env.HackInstalled() {
		t.set(api.StepBackup, api.SeverityNeutral, "sector backup...")
		if err := t.backupRegions(files.SectorBackup, "sector backup", raw(t.sector)); err != nil {
			t.set(api.StepBackup, api.SeverityError, "sector backup fail")
			return err
		}
	}
	t.set(api.StepBackup, api.SeverityOK, "backed up & verified")
	return nil
}

// backupRegions copies the regions back to back into the named file,
// appending a BackupRecord for each.
func (t *Transaction) backupRegions(name, task string, regions ...flash.Partition) error {
	f, err := t.cfg.Medium.Create(name)
	if err != nil {
		return api.Wrap(api.StorageUnavailable, err, "cannot create "+name)
	}
	defer f.Close()

	var total, done int64
	for _, r := range regions {
		total += int64(r.Length)
	}
	write, read := safewrite.File(f)

	for _, r := range regions {
		rec := &BackupRecord{
			Region:    r,
			File:      name,
			Offset:    done,
			ChunkSize: len(t.work),
		}
		for pos := uint64(0); pos < r.Length; pos += uint64(len(t.work)) {
			n := len(t.work)
			if rem := r.Length - pos; rem < uint64(n) {
				n = int(rem)
			}
			if r.Length > mb {
				t.set(api.StepBackup, api.SeverityNeutral, "%s (%dMB/%dMB)", task, done/mb, total/mb)
			}
			d, err := t.backupChunk(r.Start+pos, t.work[:n], write, read, done)
			if err != nil {
				return err
			}
			rec.Digests = append(rec.Digests, d)
			done += int64(n)
			t.rep.Progress(task, done, total)
		}
		klog.Infof("Backed up %v to %s@0x%x", r, name, rec.Offset)
		t.backups = append(t.backups, rec)
	}
	return nil
}

// backupChunk captures len(buf) raw bytes of flash at off, writes them to
// the backup file at fileOff and checks that flash still holds the same
// bytes afterwards.
func (t *Transaction) backupChunk(off uint64, buf []byte, write safewrite.WriteFunc, read safewrite.ReadFunc, fileOff int64) (digest.Digest, error) {
	if err := t.cfg.Flash.ReadAt(buf, int64(off), flash.RawKeyslot); err != nil {
		return digest.Digest{}, api.Wrap(api.StorageUnavailable, err, fmt.Sprintf("flash read at 0x%x failed", off))
	}
	d := t.ds.Sum(buf)
	if err := t.sw.WriteAndVerify(buf, fileOff, write, read); err != nil {
		t.m.VerifyFailed(metrics.TargetMedium)
		return digest.Digest{}, err
	}
	t.m.BytesWritten(metrics.TargetMedium, api.PhaseBackup.String(), len(buf))

	if err := t.cfg.Flash.ReadAt(buf, int64(off), flash.RawKeyslot); err != nil {
		return digest.Digest{}, api.Wrap(api.StorageUnavailable, err, fmt.Sprintf("flash re-read at 0x%x failed", off))
	}
	if !t.ds.Equal(t.ds.Sum(buf), d) {
		return digest.Digest{}, api.Errorf(api.WriteVerifyFailed, "flash changed at 0x%x during backup", off)
	}
	return d, nil
}

// coveringBackup returns the backup record covering [off, off+n), or nil.
func (t *Transaction) coveringBackup(off uint64, n int) *BackupRecord {
	for _, b := range t.backups {
		if b.Covers(off, n) {
			return b
		}
	}
	return nil
}
