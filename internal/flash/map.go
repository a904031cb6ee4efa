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
	"sort"

	"k8s.io/klog/v2"
)

// Partition is a named region of flash and the keyslot normally used to
// access it.
type Partition struct {
	Name string
	// Start is the offset of the first byte of the partition.
	Start uint64
	// Length is the number of bytes covered, i.e. the partition occupies
	// [Start, Start+Length).
	Length  uint64
	Keyslot Keyslot
}

// End returns the offset of the first byte after the partition.
func (p Partition) End() uint64 {
	return p.Start + p.Length
}

// Overlaps returns true if p and o share at least one byte.
func (p Partition) Overlaps(o Partition) bool {
	return p.Start < o.End() && o.Start < p.End()
}

func (p Partition) String() string {
	return fmt.Sprintf("%s@[0x%x, 0x%x) ks %v", p.Name, p.Start, p.End(), p.Keyslot)
}

// Map is a validated set of partitions, resolved by name.
type Map struct {
	parts  []Partition
	byName map[string]int
}

// NewMap checks that the partitions have unique names, are not empty, do
// not overlap and fit a device of the given size.
func NewMap(parts []Partition, size uint64) (*Map, error) {
	m := &Map{
		parts:  append([]Partition{}, parts...),
		byName: make(map[string]int, len(parts)),
	}
	for i, p := range m.parts {
		if p.Name == "" {
			return nil, fmt.Errorf("invalid partition map: partition %d has no name", i)
		}
		if _, ok := m.byName[p.Name]; ok {
			return nil, fmt.Errorf("invalid partition map: duplicate partition %q", p.Name)
		}
		if p.Length == 0 {
			return nil, fmt.Errorf("invalid partition map: %q is empty", p.Name)
		}
		if p.End() < p.Start || p.End() > size {
			return nil, fmt.Errorf("invalid partition map: %v exceeds device size 0x%x", p, size)
		}
		for _, o := range m.parts[:i] {
			if p.Overlaps(o) {
				return nil, fmt.Errorf("invalid partition map: %v overlaps %v", p, o)
			}
		}
		m.byName[p.Name] = i
	}
	klog.V(2).Infof("Partition map: %v", m.parts)
	return m, nil
}

// Lookup returns the named partition.
func (m *Map) Lookup(name string) (Partition, error) {
	i, ok := m.byName[name]
	if !ok {
		return Partition{}, fmt.Errorf("unknown partition %q", name)
	}
	return m.parts[i], nil
}

// Partitions returns the partitions in ascending start order.
func (m *Map) Partitions() []Partition {
	r := append([]Partition{}, m.parts...)
	sort.Slice(r, func(i, j int) bool { return r[i].Start < r[j].Start })
	return r
}
