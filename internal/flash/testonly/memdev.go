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

// Package testonly provides an in-memory flash for tests.
package testonly

import (
	"fmt"
	"testing"

	"github.com/transparency-dev/safe-firm-installer/internal/flash"
)

// OpKind distinguishes reads from writes.
type OpKind int

const (
	Read OpKind = iota
	Write
)

// Op records a single call to a MemDev.
type Op struct {
	Kind    OpKind
	Off     int64
	Len     int
	Keyslot flash.Keyslot
}

// MemDev is a simple in-memory flash.
//
// Storage holds the raw (enciphered) contents. Any keyslot other than
// flash.RawKeyslot applies a trivial XOR cipher keyed by the keyslot number,
// so data written through one keyslot reads back differently through
// another.
type MemDev struct {
	Storage []byte
	// Ops is a log of every call, in order.
	Ops []Op

	// Fail, if set, is called before each operation; a non-nil error is
	// returned without touching Storage.
	Fail func(op Op) error
	// OnWritten is called just after a write has been stored.
	OnWritten func(op Op)
	// Unstable lists keyslots whose reads return different garbage each
	// time, as a broken cipher engine would.
	Unstable map[flash.Keyslot]bool

	reads int
}

// NewMemDev creates a new in-memory flash of the given size, filled with a
// pattern.
func NewMemDev(t *testing.T, size int) *MemDev {
	t.Helper()
	md := &MemDev{Storage: make([]byte, size)}
	for i := range md.Storage {
		md.Storage[i] = byte(i*13 + i>>9)
	}
	return md
}

func (md *MemDev) do(op Op) error {
	md.Ops = append(md.Ops, op)
	if op.Off < 0 || op.Off+int64(op.Len) > int64(len(md.Storage)) {
		return fmt.Errorf("range [0x%x, 0x%x) outside device", op.Off, op.Off+int64(op.Len))
	}
	if md.Fail != nil {
		return md.Fail(op)
	}
	return nil
}

// ReadAt implements flash.Device.
func (md *MemDev) ReadAt(b []byte, off int64, ks flash.Keyslot) error {
	if err := md.do(Op{Kind: Read, Off: off, Len: len(b), Keyslot: ks}); err != nil {
		return err
	}
	copy(b, md.Storage[off:])
	md.reads++
	if ks != flash.RawKeyslot {
		k := byte(ks)
		if md.Unstable[ks] {
			k += byte(md.reads)
		}
		for i := range b {
			b[i] ^= k
		}
	}
	return nil
}

// WriteAt implements flash.Device.
func (md *MemDev) WriteAt(b []byte, off int64, ks flash.Keyslot) error {
	op := Op{Kind: Write, Off: off, Len: len(b), Keyslot: ks}
	if err := md.do(op); err != nil {
		return err
	}
	copy(md.Storage[off:], b)
	if ks != flash.RawKeyslot {
		for i := range b {
			md.Storage[off+int64(i)] ^= byte(ks)
		}
	}
	if md.OnWritten != nil {
		md.OnWritten(op)
	}
	return nil
}

// Size implements flash.Device.
func (md *MemDev) Size() int64 {
	return int64(len(md.Storage))
}

// Writes returns the logged write operations.
func (md *MemDev) Writes() []Op {
	var r []Op
	for _, op := range md.Ops {
		if op.Kind == Write {
			r = append(r, op)
		}
	}
	return r
}

// Snapshot returns a copy of the raw contents in [off, off+n).
func (md *MemDev) Snapshot(off int64, n int) []byte {
	return append([]byte{}, md.Storage[off:off+int64(n)]...)
}
