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
	"k8s.io/klog/v2"
)

// Fault decides whether a write should be corrupted.
type Fault func(b []byte, off int64, ks Keyslot) bool

// Faulty is a Device which silently corrupts the writes selected by its
// Fault. The underlying write reports success, so only a read-back can
// notice.
type Faulty struct {
	Device
	fault Fault
}

// NewFaulty wraps dev.
func NewFaulty(dev Device, fault Fault) *Faulty {
	return &Faulty{Device: dev, fault: fault}
}

// WriteAt implements Device.
func (f *Faulty) WriteAt(b []byte, off int64, ks Keyslot) error {
	if len(b) > 0 && f.fault(b, off, ks) {
		klog.Warningf("Corrupting write of %d bytes at 0x%x", len(b), off)
		c := append([]byte{}, b...)
		c[len(c)/2] ^= 0x01
		b = c
	}
	return f.Device.WriteAt(b, off, ks)
}

// FirstWriteTo returns a Fault matching only the first write which overlaps
// the given range.
func FirstWriteTo(p Partition) Fault {
	fired := false
	return func(b []byte, off int64, _ Keyslot) bool {
		if fired {
			return false
		}
		w := Partition{Start: uint64(off), Length: uint64(len(b))}
		fired = w.Overlaps(p)
		return fired
	}
}
