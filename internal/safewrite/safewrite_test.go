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

package safewrite_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	ftestonly "github.com/transparency-dev/safe-firm-installer/internal/flash/testonly"
	mtestonly "github.com/transparency-dev/safe-firm-installer/internal/medium/testonly"
	"github.com/transparency-dev/safe-firm-installer/internal/safewrite"
)

func TestWriteAndVerify(t *testing.T) {
	errIO := errors.New("I/O error")
	zeros := make([]byte, 4096)

	for _, test := range []struct {
		name    string
		read    func(b []byte, stored []byte) error
		write   func(b []byte) error
		wantErr bool
	}{
		{
			name: "clean",
		}, {
			name: "one bit flipped on read back",
			read: func(b, stored []byte) error {
				copy(b, stored)
				b[1234] ^= 0x10
				return nil
			},
			wantErr: true,
		}, {
			name: "stale read back",
			read: func(b, _ []byte) error {
				for i := range b {
					b[i] = 0xff
				}
				return nil
			},
			wantErr: true,
		}, {
			name:    "write error",
			write:   func([]byte) error { return errIO },
			wantErr: true,
		}, {
			name: "read error",
			read: func([]byte, []byte) error {
				return errIO
			},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var stored []byte
			writes := 0
			write := func(b []byte, off int64) error {
				writes++
				if off != 0 {
					t.Fatalf("write at %d, want 0", off)
				}
				if test.write != nil {
					return test.write(b)
				}
				stored = append([]byte{}, b...)
				return nil
			}
			read := func(b []byte, _ int64) error {
				if test.read != nil {
					return test.read(b, stored)
				}
				copy(b, stored)
				return nil
			}

			err := safewrite.NewVerifier(digest.SHA256, len(zeros)).WriteAndVerify(zeros, 0, write, read)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("WriteAndVerify() = %v, wantErr %t", err, test.wantErr)
			}
			if err != nil && !errors.Is(err, api.ErrWriteVerifyFailed) {
				t.Fatalf("WriteAndVerify() = %v, want WriteVerifyFailed", err)
			}
			if writes != 1 {
				t.Fatalf("Got %d writes, want exactly 1", writes)
			}
		})
	}
}

func TestWriteAndVerifyScratchTooSmall(t *testing.T) {
	v := safewrite.NewVerifier(digest.SHA256, 16)
	called := false
	write := func([]byte, int64) error { called = true; return nil }
	read := func([]byte, int64) error { return nil }
	if err := v.WriteAndVerify(make([]byte, 17), 0, write, read); !errors.Is(err, api.ErrWriteVerifyFailed) {
		t.Fatalf("WriteAndVerify() = %v, want WriteVerifyFailed", err)
	}
	if called {
		t.Fatal("Write attempted despite undersized scratch")
	}
}

func TestFile(t *testing.T) {
	s := mtestonly.NewMemStore()
	f, err := s.Create("sector0x96.bak")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	v := safewrite.NewVerifier(digest.SHA256, 0x200)
	data := bytes.Repeat([]byte{0x96}, 0x200)

	w, r := safewrite.File(f)
	if err := v.WriteAndVerify(data, 0x200, w, r); err != nil {
		t.Fatalf("WriteAndVerify: %v", err)
	}
	if got := s.Get("sector0x96.bak"); !bytes.Equal(got[0x200:], data) {
		t.Fatal("File content differs")
	}

	s.CorruptReads["sector0x96.bak"] = true
	if err := v.WriteAndVerify(data, 0, w, r); !errors.Is(err, api.ErrWriteVerifyFailed) {
		t.Fatalf("WriteAndVerify(corrupt reads) = %v, want WriteVerifyFailed", err)
	}
}

func TestFileShortReadBack(t *testing.T) {
	s := mtestonly.NewMemStore()
	f, err := s.Create("short")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Writes are dropped, so the read back hits the end of the file.
	w := func([]byte, int64) error { return nil }
	_, r := safewrite.File(f)
	v := safewrite.NewVerifier(digest.SHA256, 0x10)
	if err := v.WriteAndVerify(make([]byte, 0x10), 0, w, r); !errors.Is(err, api.ErrWriteVerifyFailed) {
		t.Fatalf("WriteAndVerify() = %v, want WriteVerifyFailed", err)
	}
}

func TestFlash(t *testing.T) {
	md := ftestonly.NewMemDev(t, 0x4000)
	v := safewrite.NewVerifier(digest.SHA256, 0x1000)
	data := bytes.Repeat([]byte{0x42}, 0x1000)

	w, r := safewrite.Flash(md, 0x06)
	if err := v.WriteAndVerify(data, 0x1000, w, r); err != nil {
		t.Fatalf("WriteAndVerify: %v", err)
	}
	want := []ftestonly.Op{
		{Kind: ftestonly.Write, Off: 0x1000, Len: 0x1000, Keyslot: 0x06},
		{Kind: ftestonly.Read, Off: 0x1000, Len: 0x1000, Keyslot: 0x06},
	}
	if len(md.Ops) != len(want) {
		t.Fatalf("Got ops %v, want %v", md.Ops, want)
	}
	for i := range want {
		if md.Ops[i] != want[i] {
			t.Errorf("op %d = %+v, want %+v", i, md.Ops[i], want[i])
		}
	}

	faulty := flash.NewFaulty(md, func([]byte, int64, flash.Keyslot) bool { return true })
	w, r = safewrite.Flash(faulty, flash.RawKeyslot)
	if err := v.WriteAndVerify(data, 0x2000, w, r); !errors.Is(err, api.ErrWriteVerifyFailed) {
		t.Fatalf("WriteAndVerify(faulty) = %v, want WriteVerifyFailed", err)
	}
}
