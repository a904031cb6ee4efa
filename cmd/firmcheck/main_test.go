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

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/frankban/quicktest"
	"github.com/transparency-dev/safe-firm-installer/api"
	"github.com/transparency-dev/safe-firm-installer/firm/testonly"
)

var editionYAML = `base: retail
name: test
signature_fingerprints:
  - ` + hex.EncodeToString(testonly.Signature(0x42)) + `
payloads:
  - name: boot9strap
    magic: B9S
    offset_from_end: 16
`

func setup(t *testing.T, img []byte) options {
	t.Helper()
	dir := t.TempDir()
	opts := options{
		Image:       filepath.Join(dir, "boot9strap.firm"),
		Edition:     "retail",
		EditionFile: filepath.Join(dir, "edition.yaml"),
	}
	opts.DigestFile = opts.Image + ".sha"
	if err := os.WriteFile(opts.Image, img, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(opts.EditionFile, []byte(editionYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	return opts
}

func b9sImage() []byte {
	return signedB9SImage(testonly.Signature(0x42))
}

func signedB9SImage(sig []byte) []byte {
	data := testonly.Fill(0x2000, 0x99)
	copy(data[len(data)-16:], "B9S")
	return testonly.SetSignature(testonly.Build(
		testonly.Section{Address: 0x1FF80000, Data: testonly.Fill(0x1000, 0x11)},
		testonly.Section{Address: 0x08006000, Data: data},
	), sig)
}

// writeImage replaces the image and its digest file.
func writeImage(t *testing.T, opts *options, img []byte) {
	t.Helper()
	d := testonly.Digest(img)
	if err := os.WriteFile(opts.Image, img, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(opts.DigestFile, d[:], 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCheck(t *testing.T) {
	qt := quicktest.New(t)
	opts := setup(t, b9sImage())
	ctx := context.Background()

	_, err := check(ctx, opts)
	qt.Assert(errors.Is(err, os.ErrNotExist), quicktest.IsTrue, quicktest.Commentf("check without digest: %v", err))

	opts.WriteDigest = true
	out, err := check(ctx, opts)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(out, quicktest.Contains, "Wrote digest")
	d := testonly.Digest(b9sImage())
	qt.Check(mustRead(t, opts.DigestFile), quicktest.DeepEquals, d[:])

	opts.WriteDigest = false
	out, err = check(ctx, opts)
	qt.Assert(err, quicktest.IsNil)
	qt.Check(out, quicktest.Contains, "Section 0: offset 0x200 address 0x1ff80000 size 0x1000")
	qt.Check(out, quicktest.Contains, "Section 2: empty")
	qt.Check(out, quicktest.Contains, "ARM9:  0x08006000 (section 1)")
	qt.Check(out, quicktest.Contains, `Recognised by edition "test": boot9strap`)
}

func TestCheckFailures(t *testing.T) {
	for name, test := range map[string]struct {
		modify  func(t *testing.T, opts *options)
		wantErr error
	}{
		"digest mismatch": {
			modify: func(t *testing.T, opts *options) {
				if err := os.WriteFile(opts.DigestFile, make([]byte, 32), 0o600); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: api.ErrDigestMismatch,
		},
		"unknown payload": {
			modify: func(t *testing.T, opts *options) {
				writeImage(t, opts, testonly.SetSignature(testonly.Default(), testonly.Signature(0x42)))
			},
			wantErr: api.ErrFingerprintNotRecognized,
		},
		"unknown signature with known payload": {
			modify: func(t *testing.T, opts *options) {
				writeImage(t, opts, signedB9SImage(testonly.Signature(0x77)))
			},
			wantErr: api.ErrFingerprintNotRecognized,
		},
		"no trailers": {
			modify: func(t *testing.T, opts *options) {
				opts.EditionFile = ""
			},
			wantErr: api.ErrFingerprintNotRecognized,
		},
	} {
		t.Run(name, func(t *testing.T) {
			qt := quicktest.New(t)
			opts := setup(t, b9sImage())
			d := testonly.Digest(b9sImage())
			qt.Assert(os.WriteFile(opts.DigestFile, d[:], 0o600), quicktest.IsNil)
			test.modify(t, &opts)
			_, err := check(context.Background(), opts)
			qt.Check(errors.Is(err, test.wantErr), quicktest.IsTrue, quicktest.Commentf("got %v", err))
		})
	}
}

func TestCLIParse(t *testing.T) {
	qt := quicktest.New(t)
	opts, err := cliParse([]string{"--image=b9s.firm"})
	qt.Assert(err, quicktest.IsNil)
	qt.Check(opts, quicktest.Equals, options{Image: "b9s.firm", DigestFile: "b9s.firm.sha", Edition: "retail"})

	_, err = cliParse(nil)
	qt.Check(err, quicktest.ErrorMatches, `error: required flag --image not provided, try --help`)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestDescribeHeaderOnly(t *testing.T) {
	qt := quicktest.New(t)
	opts := setup(t, testonly.Build())
	opts.WriteDigest = true
	out, err := check(context.Background(), opts)
	qt.Check(err, quicktest.IsNil)
	qt.Check(strings.Count(out, ": empty"), quicktest.Equals, 4)
}
