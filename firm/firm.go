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

// Package firm parses and validates FIRM boot firmware images.
//
// A FIRM image starts with a fixed 0x200 byte header describing up to four
// sections, each with its own load address and SHA-256 hash, followed by a
// 0x100 byte signature block. See https://www.3dbrew.org/wiki/FIRM.
//
// Section descriptors are expected in ascending offset order; the header is
// rejected rather than sorted if they are not.
package firm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
)

const (
	// HeaderSize is the size of the FIRM header, including the signature.
	HeaderSize = 0x200
	// MaxSize is the largest image which fits a FIRM partition slot.
	MaxSize = 0x400000
	// NumSections is the number of section descriptors in a header.
	NumSections = 4
	// SignatureSize is the size of the trailing signature block.
	SignatureSize = 0x100
	// SecretSectorSize is the size of the secret sector.
	SecretSectorSize = 0x200
)

// Magic is the tag at the start of every FIRM image.
var Magic = [4]byte{'F', 'I', 'R', 'M'}

// Section is a FIRM section descriptor.
type Section struct {
	Offset  uint32
	Address uint32
	Size    uint32
	Type    uint32
	Hash    [digest.Size]byte
}

// Empty returns true if the section carries no data.
func (s Section) Empty() bool {
	return s.Size == 0
}

// Contains returns true if addr falls within the section's load range.
func (s Section) Contains(addr uint32) bool {
	return !s.Empty() && addr >= s.Address && uint64(addr) < uint64(s.Address)+uint64(s.Size)
}

// End returns the offset of the first byte after the section.
func (s Section) End() uint64 {
	return uint64(s.Offset) + uint64(s.Size)
}

// Header mirrors the on-disk FIRM header; all integers are little-endian.
type Header struct {
	Magic      [4]byte
	Priority   [4]byte
	EntryARM11 uint32
	EntryARM9  uint32
	Reserved   [0x30]byte
	Sections   [NumSections]Section
	Signature  [SignatureSize]byte
}

// ParseHeader decodes the header at the start of b.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, api.Errorf(api.FormatInvalid, "image smaller than header (%d bytes)", len(b))
	}
	h := &Header{}
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, h); err != nil {
		return nil, api.Wrap(api.FormatInvalid, err, "header decode failed")
	}
	return h, nil
}

// Bytes encodes the header.
func (h *Header) Bytes() []byte {
	buf := &bytes.Buffer{}
	buf.Grow(HeaderSize)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		panic(fmt.Errorf("encoding fixed size header: %v", err))
	}
	return buf.Bytes()
}

// SectionFor returns the index of the first non-empty section whose load
// range contains addr, or -1.
func (h *Header) SectionFor(addr uint32) int {
	for i, s := range h.Sections {
		if s.Contains(addr) {
			return i
		}
	}
	return -1
}
