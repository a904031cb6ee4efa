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

package firm_test

import (
	"errors"
	"testing"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/firm"
	"github.com/transparency-dev/safe-firm-installer/firm/testonly"
)

// payloadImage returns an image whose second section ends with magic placed
// 0x10 bytes before its end.
func payloadImage(magic string) []byte {
	data := testonly.Fill(0x400, 0x33)
	copy(data[len(data)-0x10:], magic)
	return testonly.Build(
		testonly.Section{Address: 0x1FF80000, Data: testonly.Fill(0x200, 0x11)},
		testonly.Section{Address: 0x08006000, Data: data},
	)
}

func TestCheckTrailerMagic(t *testing.T) {
	img := payloadImage("B9S")
	for _, test := range []struct {
		name    string
		trailer firm.Trailer
		wantErr bool
	}{
		{
			name:    "section trailer",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 0x10, Section: 1},
		}, {
			name:    "image trailer",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 0x10, Section: -1},
		}, {
			name:    "wrong magic",
			trailer: firm.Trailer{Name: "fastboot3ds", Magic: []byte("FB3DS"), OffsetFromEnd: 0x10, Section: 1},
			wantErr: true,
		}, {
			name:    "wrong section",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 0x10, Section: 0},
			wantErr: true,
		}, {
			name:    "empty section",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 0x10, Section: 2},
			wantErr: true,
		}, {
			name:    "no such section",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 0x10, Section: 4},
			wantErr: true,
		}, {
			name:    "magic runs past end",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 2, Section: 1},
			wantErr: true,
		}, {
			name:    "offset before start",
			trailer: firm.Trailer{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: len(img) + 1, Section: -1},
			wantErr: true,
		}, {
			name:    "empty magic",
			trailer: firm.Trailer{Name: "boot9strap", OffsetFromEnd: 0x10, Section: -1},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			err := firm.CheckTrailerMagic(img, len(img), test.trailer)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("CheckTrailerMagic() = %v, wantErr %t", err, test.wantErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	trailers := []firm.Trailer{
		{Name: "fastboot3ds", Magic: []byte("FB3DS"), OffsetFromEnd: 0x10, Section: 1},
		{Name: "boot9strap", Magic: []byte("B9S"), OffsetFromEnd: 0x10, Section: 1},
	}
	for _, test := range []struct {
		magic   string
		want    string
		wantErr error
	}{
		{magic: "B9S", want: "boot9strap"},
		{magic: "FB3DS", want: "fastboot3ds"},
		{magic: "LUMA", wantErr: api.ErrFingerprintNotRecognized},
	} {
		t.Run(test.magic, func(t *testing.T) {
			img := payloadImage(test.magic)
			got, err := firm.Classify(img, len(img), trailers)
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("Classify() = %v, want %v", err, test.wantErr)
				}
				if got, want := api.ReasonOf(err), "payload unknown"; got != want {
					t.Fatalf("Got reason %q, want %q", got, want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify(): %v", err)
			}
			if got != test.want {
				t.Fatalf("Classify() = %q, want %q", got, test.want)
			}
		})
	}
}
