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

package firm

import (
	"bytes"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"k8s.io/klog/v2"
)

// ValidateHeader checks the magic and section layout of the image in img.
//
// Non-empty sections must start at or after the end of the previous one
// (the header, for the first), in header order. The resulting size must not
// exceed MaxSize or, if non-zero, declaredSize.
//
// Returns the size of the image described by the header.
func ValidateHeader(img []byte, declaredSize int) (int, error) {
	h, err := ParseHeader(img)
	if err != nil {
		return 0, err
	}
	if h.Magic != Magic {
		return 0, api.Errorf(api.FormatInvalid, "bad magic %q", h.Magic[:])
	}

	end := uint64(HeaderSize)
	for i, s := range h.Sections {
		if s.Empty() {
			continue
		}
		if uint64(s.Offset) < end {
			return 0, api.Errorf(api.FormatInvalid, "section %d at 0x%x overlaps 0x%x", i, s.Offset, end)
		}
		end = s.End()
	}

	if end > MaxSize {
		return 0, api.Errorf(api.FormatInvalid, "size 0x%x exceeds 0x%x", end, MaxSize)
	}
	if declaredSize > 0 && end > uint64(declaredSize) {
		return 0, api.Errorf(api.FormatInvalid, "size 0x%x exceeds data 0x%x", end, declaredSize)
	}
	return int(end), nil
}

// Validator checks images and secret sectors using a digest Service.
type Validator struct {
	ds digest.Service
}

// NewValidator returns a Validator using the given digest service.
func NewValidator(ds digest.Service) *Validator {
	return &Validator{ds: ds}
}

// Validate checks that img is a well-formed FIRM image whose sections match
// their stored hashes, whose entry points both fall inside a section, and
// whose bytes match the detached digest.
//
// declaredSize is the number of image bytes available (e.g. read from a
// file); the detached digest covers exactly that many bytes. If it is zero
// the size computed from the header is used instead.
func (v *Validator) Validate(img []byte, detached digest.Digest, declaredSize int) error {
	if declaredSize > len(img) {
		return api.Errorf(api.FormatInvalid, "declared size 0x%x exceeds data 0x%x", declaredSize, len(img))
	}
	size, err := ValidateHeader(img, declaredSize)
	if err != nil {
		return err
	}
	if size > len(img) {
		return api.Errorf(api.FormatInvalid, "image truncated at 0x%x", len(img))
	}
	h, err := ParseHeader(img)
	if err != nil {
		return err
	}

	for i, s := range h.Sections {
		if s.Empty() {
			continue
		}
		if !v.ds.Equal(v.ds.Sum(img[s.Offset:s.End()]), s.Hash) {
			return api.Errorf(api.DigestMismatch, "section %d hash mismatch", i)
		}
		klog.V(2).Infof("section %d: offset 0x%x addr 0x%x size 0x%x type %d ok", i, s.Offset, s.Address, s.Size, s.Type)
	}

	arm11, arm9 := h.SectionFor(h.EntryARM11), h.SectionFor(h.EntryARM9)
	if arm11 < 0 || arm9 < 0 {
		return api.Errorf(api.EntryPointUnresolved, "entrypoints not found")
	}
	klog.V(2).Infof("entrypoints: arm11 0x%x in section %d, arm9 0x%x in section %d", h.EntryARM11, arm11, h.EntryARM9, arm9)

	covered := size
	if declaredSize > 0 {
		covered = declaredSize
	}
	if !v.ds.Equal(v.ds.Sum(img[:covered]), detached) {
		return api.Errorf(api.DigestMismatch, "digest mismatch")
	}
	return nil
}

// ValidateSecretSector checks the secret sector against a known fingerprint.
// The sector contents are never logged.
func (v *Validator) ValidateSecretSector(sector []byte, known digest.Digest) error {
	if len(sector) != SecretSectorSize {
		return api.Errorf(api.FormatInvalid, "sector is %d bytes", len(sector))
	}
	if !v.ds.Equal(v.ds.Sum(sector), known) {
		return api.Errorf(api.FingerprintNotRecognized, "invalid file")
	}
	return nil
}

// CheckSignature compares the signature block of img against a set of known
// fixed values. This is an equality check rather than signature verification:
// it recognises specific signature values supplied as configuration.
func CheckSignature(img []byte, known [][]byte) error {
	h, err := ParseHeader(img)
	if err != nil {
		return err
	}
	for _, k := range known {
		if bytes.Equal(h.Signature[:], k) {
			return nil
		}
	}
	return api.Errorf(api.FingerprintNotRecognized, "signature unknown")
}
