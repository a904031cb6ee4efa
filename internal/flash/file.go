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

package flash

import (
	"fmt"
	"io"
	"os"

	"k8s.io/klog/v2"
)

// Backing is the storage behind a FileDevice, usually an *os.File for a
// flash dump or a block device node.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

// FileDevice is a Device backed by a file holding the deciphered flash
// contents.
//
// The file carries no cipher, so only the keyslots listed as plain (and
// RawKeyslot) are accepted; all of them map to the same bytes.
type FileDevice struct {
	f     Backing
	size  int64
	plain map[Keyslot]bool
}

// NewFileDevice returns a FileDevice over f, which is size bytes long.
func NewFileDevice(f Backing, size int64, plain ...Keyslot) *FileDevice {
	d := &FileDevice{
		f:     f,
		size:  size,
		plain: map[Keyslot]bool{RawKeyslot: true},
	}
	for _, k := range plain {
		d.plain[k] = true
	}
	return d
}

// OpenFile opens the flash image or device node at path.
//
// The returned function closes the file.
func OpenFile(path string, writable bool, plain ...Keyslot) (*FileDevice, func() error, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, err
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to determine size of %q: %v", path, err)
	}
	klog.Infof("Using flash at %q (%d bytes, writable %t)", path, size, writable)
	return NewFileDevice(f, size, plain...), f.Close, nil
}

func (d *FileDevice) checkKeyslot(ks Keyslot) error {
	if !d.plain[ks] {
		return fmt.Errorf("keyslot %v not available on a file device", ks)
	}
	return nil
}

// ReadAt implements Device.
func (d *FileDevice) ReadAt(b []byte, off int64, ks Keyslot) error {
	if err := d.checkKeyslot(ks); err != nil {
		return err
	}
	if err := checkBounds(d, off, len(b)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(b, off)
	return err
}

// WriteAt implements Device.
func (d *FileDevice) WriteAt(b []byte, off int64, ks Keyslot) error {
	if err := d.checkKeyslot(ks); err != nil {
		return err
	}
	if err := checkBounds(d, off, len(b)); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(b, off); err != nil {
		return err
	}
	if s, ok := d.f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Size implements Device.
func (d *FileDevice) Size() int64 {
	return d.size
}
