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

// Package flash provides access to the internal flash of the device by byte
// offset, through the cipher selected by a keyslot.
//
// Concurrent use of a Device by more than one writer is undefined.
package flash

import (
	"fmt"
)

// Keyslot selects the cipher applied by the device to a read or write.
type Keyslot uint8

// RawKeyslot applies no cipher.
const RawKeyslot Keyslot = 0xFF

func (k Keyslot) String() string {
	if k == RawKeyslot {
		return "raw"
	}
	return fmt.Sprintf("0x%02x", uint8(k))
}

// Device reads and writes the flash.
type Device interface {
	// ReadAt fills b with the contents of flash at off, deciphered under ks.
	ReadAt(b []byte, off int64, ks Keyslot) error
	// WriteAt writes b to flash at off, enciphered under ks.
	WriteAt(b []byte, off int64, ks Keyslot) error
	// Size returns the size of the flash in bytes.
	Size() int64
}

func checkBounds(d Device, off int64, n int) error {
	if off < 0 || n < 0 || off+int64(n) > d.Size() {
		return fmt.Errorf("range [0x%x, 0x%x) outside device of 0x%x bytes", off, off+int64(n), d.Size())
	}
	return nil
}
