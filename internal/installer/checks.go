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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/firm"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"github.com/transparency-dev/safe-firm-installer/internal/medium"
	"k8s.io/klog/v2"
)

const mb = 1 << 20

func (t *Transaction) checkEnvironment(context.Context) error {
	env, err := t.cfg.Env.Probe()
	t.env = env
	if err != nil {
		// Reported, not fatal.
		klog.Warningf("Failed to probe boot environment: %v", err)
		t.envErr = err
		t.set(api.StepEnvironment, api.SeverityWarning, "unknown (probe failed)")
		return nil
	}
	klog.Infof("Boot environment: %v", env)
	if env.HackInstalled() {
		t.set(api.StepEnvironment, api.SeverityOK, "installed")
	} else {
		t.set(api.StepEnvironment, api.SeverityOK, "not installed")
	}
	return nil
}

func (t *Transaction) checkMedium(context.Context) error {
	t.set(api.StepMedium, api.SeverityNeutral, "checking...")
	if err := t.cfg.Medium.Init(); err != nil {
		t.set(api.StepMedium, api.SeverityError, "init failed")
		return api.Wrap(api.StorageUnavailable, err, "medium init failed")
	}
	free, total, err := t.cfg.Medium.Space()
	if err != nil {
		t.set(api.StepMedium, api.SeverityError, "init failed")
		return api.Wrap(api.StorageUnavailable, err, "medium init failed")
	}
	if free < t.cfg.Edition.MinFreeBytes {
		t.set(api.StepMedium, api.SeverityError, "%dMB/%dMB free", free/mb, total/mb)
		return api.Errorf(api.StorageUnavailable, "need %dMB free on medium", t.cfg.Edition.MinFreeBytes/mb)
	}
	t.set(api.StepMedium, api.SeverityOK, "%dMB/%dMB free", free/mb, total/mb)
	return nil
}

func (t *Transaction) loadImage(ctx context.Context) error {
	t.set(api.StepImage, api.SeverityNeutral, "checking...")
	files := t.cfg.Edition.Files

	n, err := medium.ReadFile(ctx, t.cfg.Medium, files.Image, t.img)
	switch {
	case errors.Is(err, medium.ErrTooLarge):
		t.set(api.StepImage, api.SeverityError, "invalid FIRM")
		return api.Wrap(api.FormatInvalid, err, "image too large")
	case err != nil || n < firm.HeaderSize:
		t.set(api.StepImage, api.SeverityError, "file not found")
		return api.Wrap(api.StorageUnavailable, err, "image file not found")
	}

	var sha [digest.Size]byte
	if m, err := medium.ReadFile(ctx, t.cfg.Medium, files.Digest, sha[:]); err != nil || m != digest.Size {
		t.set(api.StepImage, api.SeverityError, ".sha file not found")
		return api.Wrap(api.StorageUnavailable, err, ".sha file not found")
	}

	img := t.img[:n]
	if err := t.v.Validate(img, sha, n); err != nil {
		klog.Errorf("Image %q: %v", files.Image, err)
		t.set(api.StepImage, api.SeverityError, "invalid FIRM")
		return err
	}
	if n > int(t.firm0.Length) {
		t.set(api.StepImage, api.SeverityError, "invalid FIRM")
		return api.Errorf(api.FormatInvalid, "image larger than slot")
	}

	payload, err := t.classify(img, n)
	if err != nil {
		t.set(api.StepImage, api.SeverityError, "%s", api.ReasonOf(err))
		return err
	}
	klog.Infof("Image %q: %d bytes, %s", files.Image, n, payload)
	t.imgSize = n
	t.set(api.StepImage, api.SeverityOK, "loaded & verified")
	return nil
}

// classify accepts an image whose signature block matches a known
// fingerprint or which carries a known payload trailer.
// classify requires the signature block to match a configured fingerprint
// and, when payload trailers are configured, one of them to match as well.
func (t *Transaction) classify(img []byte, n int) (string, error) {
	if err := firm.CheckSignature(img, t.cfg.Edition.Fingerprints()); err != nil {
		return "", err
	}
	trailers := t.cfg.Edition.Trailers()
	if len(trailers) == 0 {
		return "known signature", nil
	}
	return firm.Classify(img, n, trailers)
}

func (t *Transaction) loadSecretSector(ctx context.Context) error {
	if !t.env.SectorRequired() {
		t.set(api.StepSecretSector, api.SeverityOK, "not required")
		return nil
	}
	t.set(api.StepSecretSector, api.SeverityNeutral, "checking...")
	name := t.cfg.Edition.Files.SecretSector
	n, err := medium.ReadFile(ctx, t.cfg.Medium, name, t.sectorB)
	if err != nil || n != firm.SecretSectorSize {
		t.set(api.StepSecretSector, api.SeverityError, "file not found")
		if errors.Is(err, fs.ErrNotExist) || err == nil {
			return api.Errorf(api.StorageUnavailable, "secret sector file not found")
		}
		return api.Wrap(api.FormatInvalid, err, "bad secret sector file")
	}
	if err := t.v.ValidateSecretSector(t.sectorB, t.cfg.Edition.SectorDigest()); err != nil {
		t.set(api.StepSecretSector, api.SeverityError, "invalid file")
		return err
	}
	t.set(api.StepSecretSector, api.SeverityOK, "loaded & verified")
	return nil
}

// cryptoSelfTest checks that reads through the cipher give stable and
// plausible results before any digest is trusted.
func (t *Transaction) cryptoSelfTest(context.Context) error {
	t.set(api.StepCrypto, api.SeverityNeutral, "checking...")
	for _, p := range []flash.Partition{t.firm0, t.firm1} {
		hdr, err := t.readTwice(p, firm.HeaderSize)
		if err == nil {
			_, err = firm.ValidateHeader(hdr, 0)
		}
		if err != nil {
			klog.Errorf("Crypto self test on %v: %v", p, err)
			t.set(api.StepCrypto, api.SeverityError, "FIRM crypto fail")
			return api.Wrap(api.StorageUnavailable, err, "FIRM crypto fail")
		}
	}
	if t.env.SectorRequired() {
		if _, err := t.readTwice(t.sector, firm.SecretSectorSize); err != nil {
			klog.Errorf("Crypto self test on %v: %v", t.sector, err)
			t.set(api.StepCrypto, api.SeverityError, "sector crypto fail")
			return api.Wrap(api.StorageUnavailable, err, "sector crypto fail")
		}
	}
	t.set(api.StepCrypto, api.SeverityOK, "all checks passed")
	return nil
}

// readTwice reads n bytes from the start of p through its keyslot twice and
// returns the data if both reads agree.
func (t *Transaction) readTwice(p flash.Partition, n int) ([]byte, error) {
	a, b := t.work[:n], make([]byte, n)
	if err := t.cfg.Flash.ReadAt(a, int64(p.Start), p.Keyslot); err != nil {
		return nil, err
	}
	if err := t.cfg.Flash.ReadAt(b, int64(p.Start), p.Keyslot); err != nil {
		return nil, err
	}
	if !bytes.Equal(a, b) {
		return nil, errors.New("reads differ")
	}
	return a, nil
}

func (t *Transaction) awaitConfirmation(ctx context.Context) error {
	token := t.token()
	prompt := "All input files verified. To install FIRM, confirm below."
	if t.envErr != nil {
		prompt = fmt.Sprintf("WARNING: the boot environment could not be determined (%v).\n"+
			"If the boot hack is installed, the secret sector will NOT be backed up or reverted.\n%s", t.envErr, prompt)
	}
	ok, err := t.cfg.Gate.Confirm(ctx, prompt, token)
	if err != nil {
		klog.Warningf("Confirmation failed: %v", err)
	}
	if err != nil || !ok {
		t.report.Set(api.StepBackup, api.SeverityWarning, "cancelled by user")
		t.set(api.StepInstall, api.SeverityWarning, "cancelled by user")
		return api.Wrap(api.UserCancelled, err, "cancelled by user")
	}
	klog.Info("Installation confirmed")
	return nil
}
