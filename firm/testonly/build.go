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

// Package testonly builds FIRM images for tests.
package testonly

import (
	"crypto/sha256"

	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/firm"
)

// Section describes a section to be laid out by Build.
type Section struct {
	Address uint32
	Type    uint32
	Data    []byte
}

// Build returns an image whose sections are laid out back to back after the
// header, with correct hashes. Entry points are set to the first byte of
// the first and last sections respectively.
func Build(sections ...Section) []byte {
	h := &firm.Header{Magic: firm.Magic}
	off := uint32(firm.HeaderSize)
	var body []byte
	for i, s := range sections {
		h.Sections[i] = firm.Section{
			Offset:  off,
			Address: s.Address,
			Size:    uint32(len(s.Data)),
			Type:    s.Type,
			Hash:    sha256.Sum256(s.Data),
		}
		body = append(body, s.Data...)
		off += uint32(len(s.Data))
	}
	if len(sections) > 0 {
		h.EntryARM11 = sections[0].Address
		h.EntryARM9 = sections[len(sections)-1].Address
	}
	return append(h.Bytes(), body...)
}

// Default returns a valid two section image.
func Default() []byte {
	return Build(
		Section{Address: 0x1FF80000, Type: 1, Data: Fill(0x1000, 0x11)},
		Section{Address: 0x08006000, Type: 0, Data: Fill(0x2000, 0x99)},
	)
}

// Fill returns n bytes of a simple pattern derived from seed.
func Fill(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

// SetHeader rewrites the header of img in place using modify.
func SetHeader(img []byte, modify func(*firm.Header)) []byte {
	h, err := firm.ParseHeader(img)
	if err != nil {
		panic(err)
	}
	modify(h)
	copy(img, h.Bytes())
	return img
}

// SetSignature replaces the signature block of img.
func SetSignature(img []byte, sig []byte) []byte {
	return SetHeader(img, func(h *firm.Header) {
		copy(h.Signature[:], sig)
	})
}

// Signature returns a recognisable signature block derived from seed.
func Signature(seed byte) []byte {
	return Fill(firm.SignatureSize, seed)
}

// Digest returns the detached digest of img.
func Digest(img []byte) digest.Digest {
	return sha256.Sum256(img)
}
