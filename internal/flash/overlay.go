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

	"k8s.io/klog/v2"
)

// SectorSize is the granularity of an Overlay.
const SectorSize = 512

type sector struct {
	ks   Keyslot
	data []byte
}

// Overlay is a copy-on-write Device which never writes to the device it
// wraps.
//
// Rather than copying the whole device, it keeps a map of sector numbers to
// sectors which have been written. A written sector remembers the keyslot it
// was written under and may only be read back through that keyslot.
type Overlay struct {
	base Device
	mem  map[int64]sector
}

// NewOverlay returns an Overlay on top of base.
func NewOverlay(base Device) *Overlay {
	klog.Info("Flash writes go to an in-memory overlay")
	return &Overlay{
		base: base,
		mem:  make(map[int64]sector),
	}
}

// ReadAt implements Device.
func (o *Overlay) ReadAt(b []byte, off int64, ks Keyslot) error {
	if err := checkBounds(o, off, len(b)); err != nil {
		return err
	}
	if err := o.base.ReadAt(b, off, ks); err != nil {
		return err
	}
	return o.each(off, len(b), func(n int64, in, at int) error {
		s, ok := o.mem[n]
		if !ok {
			return nil
		}
		if s.ks != ks {
			return fmt.Errorf("sector 0x%x written under keyslot %v, read under %v", n, s.ks, ks)
		}
		copy(b[at:], s.data[in:])
		return nil
	})
}

// WriteAt implements Device.
func (o *Overlay) WriteAt(b []byte, off int64, ks Keyslot) error {
	if err := checkBounds(o, off, len(b)); err != nil {
		return err
	}
	return o.each(off, len(b), func(n int64, in, at int) error {
		s, ok := o.mem[n]
		if !ok || s.ks != ks {
			// Partial writes need the rest of the sector as seen through ks.
			s = sector{ks: ks, data: make([]byte, SectorSize)}
			if err := o.base.ReadAt(s.data, n*SectorSize, ks); err != nil {
				return fmt.Errorf("sector 0x%x: %v", n, err)
			}
		}
		copy(s.data[in:], b[at:])
		o.mem[n] = s
		return nil
	})
}

// Size implements Device.
func (o *Overlay) Size() int64 {
	return o.base.Size()
}

// Dirty returns the number of sectors written to the overlay.
func (o *Overlay) Dirty() int {
	return len(o.mem)
}

// each calls f for every sector touched by [off, off+n), with the offset
// within the sector and the offset within the caller's buffer at which they
// coincide.
func (o *Overlay) each(off int64, n int, f func(sector int64, in, at int) error) error {
	for at := 0; at < n; {
		cur := off + int64(at)
		num, in := cur/SectorSize, int(cur%SectorSize)
		if err := f(num, in, at); err != nil {
			return err
		}
		at += SectorSize - in
	}
	return nil
}
