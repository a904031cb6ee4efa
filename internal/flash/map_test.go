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

package flash_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
)

func TestNewMap(t *testing.T) {
	const size = 0x10000
	for _, test := range []struct {
		name    string
		parts   []flash.Partition
		wantErr bool
		want    []flash.Partition
	}{
		{
			name: "sorted on output",
			parts: []flash.Partition{
				{Name: "firm1", Start: 0x2000, Length: 0x1000, Keyslot: 6},
				{Name: "firm0", Start: 0x1000, Length: 0x1000, Keyslot: 6},
				{Name: "secret_sector", Start: 0x200, Length: 0x200, Keyslot: 0x11},
			},
			want: []flash.Partition{
				{Name: "secret_sector", Start: 0x200, Length: 0x200, Keyslot: 0x11},
				{Name: "firm0", Start: 0x1000, Length: 0x1000, Keyslot: 6},
				{Name: "firm1", Start: 0x2000, Length: 0x1000, Keyslot: 6},
			},
		}, {
			name: "fills device",
			parts: []flash.Partition{
				{Name: "all", Start: 0, Length: size},
			},
			want: []flash.Partition{
				{Name: "all", Start: 0, Length: size},
			},
		}, {
			name: "overlap",
			parts: []flash.Partition{
				{Name: "firm0", Start: 0x1000, Length: 0x1000},
				{Name: "firm1", Start: 0x1fff, Length: 0x1000},
			},
			wantErr: true,
		}, {
			name: "duplicate name",
			parts: []flash.Partition{
				{Name: "firm0", Start: 0x1000, Length: 0x1000},
				{Name: "firm0", Start: 0x2000, Length: 0x1000},
			},
			wantErr: true,
		}, {
			name: "empty",
			parts: []flash.Partition{
				{Name: "firm0", Start: 0x1000},
			},
			wantErr: true,
		}, {
			name: "no name",
			parts: []flash.Partition{
				{Start: 0x1000, Length: 1},
			},
			wantErr: true,
		}, {
			name: "past end",
			parts: []flash.Partition{
				{Name: "firm0", Start: size - 0x100, Length: 0x101},
			},
			wantErr: true,
		}, {
			name: "wraps",
			parts: []flash.Partition{
				{Name: "firm0", Start: 0x100, Length: ^uint64(0)},
			},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m, err := flash.NewMap(test.parts, size)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
			if test.wantErr {
				return
			}
			if diff := cmp.Diff(m.Partitions(), test.want); diff != "" {
				t.Fatalf("Got diff: %s", diff)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	want := flash.Partition{Name: "firm1", Start: 0x2000, Length: 0x1000, Keyslot: 6}
	m, err := flash.NewMap([]flash.Partition{
		{Name: "firm0", Start: 0x1000, Length: 0x1000, Keyslot: 6},
		want,
	}, 0x10000)
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	got, err := m.Lookup("firm1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}
	if _, err := m.Lookup("firm2"); err == nil {
		t.Fatal("Lookup(firm2) succeeded, want error")
	}
}

func TestKeyslotString(t *testing.T) {
	for ks, want := range map[flash.Keyslot]string{
		flash.RawKeyslot: "raw",
		0x06:             "0x06",
		0x11:             "0x11",
	} {
		if got := ks.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", uint8(ks), got, want)
		}
	}
}
