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

// Package safewrite makes every destructive write self-checking: the data is
// read back after writing and compared by digest with what was written.
package safewrite

import (
	"io"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"k8s.io/klog/v2"
)

// WriteFunc writes b at off on the target.
type WriteFunc func(b []byte, off int64) error

// ReadFunc fills b with the data at off on the target.
type ReadFunc func(b []byte, off int64) error

// Verifier performs write-then-verify cycles using a scratch buffer
// allocated once.
type Verifier struct {
	ds      digest.Service
	scratch []byte
}

// NewVerifier returns a Verifier able to handle writes of up to maxLen
// bytes.
func NewVerifier(ds digest.Service, maxLen int) *Verifier {
	return &Verifier{
		ds:      ds,
		scratch: make([]byte, maxLen),
	}
}

// WriteAndVerify writes b at off using write, reads it back using read and
// compares the digests of both.
//
// Exactly one write is attempted. On failure the content at the target is
// unspecified.
func (v *Verifier) WriteAndVerify(b []byte, off int64, write WriteFunc, read ReadFunc) error {
	if len(b) > len(v.scratch) {
		return api.Errorf(api.WriteVerifyFailed, "write of %d bytes exceeds scratch of %d", len(b), len(v.scratch))
	}
	want := v.ds.Sum(b)
	if err := write(b, off); err != nil {
		return api.Wrap(api.WriteVerifyFailed, err, "write failed")
	}
	back := v.scratch[:len(b)]
	if err := read(back, off); err != nil {
		return api.Wrap(api.WriteVerifyFailed, err, "read back failed")
	}
	if !v.ds.Equal(v.ds.Sum(back), want) {
		klog.Errorf("Read back of %d bytes at 0x%x does not match", len(b), off)
		return api.Errorf(api.WriteVerifyFailed, "verify failed")
	}
	klog.V(2).Infof("Verified %d bytes at 0x%x", len(b), off)
	return nil
}

// ReadWriterAt is a file opened for reading and writing.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// File returns functions accessing f. Writes are followed by a Sync if f
// supports it.
func File(f ReadWriterAt) (WriteFunc, ReadFunc) {
	write := func(b []byte, off int64) error {
		if _, err := f.WriteAt(b, off); err != nil {
			return err
		}
		if s, ok := f.(interface{ Sync() error }); ok {
			return s.Sync()
		}
		return nil
	}
	read := func(b []byte, off int64) error {
		n, err := f.ReadAt(b, off)
		if n == len(b) {
			return nil
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	return write, read
}

// Flash returns functions accessing dev through keyslot ks.
func Flash(dev flash.Device, ks flash.Keyslot) (WriteFunc, ReadFunc) {
	write := func(b []byte, off int64) error {
		return dev.WriteAt(b, off, ks)
	}
	read := func(b []byte, off int64) error {
		return dev.ReadAt(b, off, ks)
	}
	return write, read
}
