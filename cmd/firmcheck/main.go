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

// The firmcheck tool inspects a FIRM image the way the installer would,
// and writes the detached digest file the installer expects next to it.
// Only useful when preparing a medium.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/firm"
	"github.com/transparency-dev/safe-firm-installer/internal/edition"
	"github.com/transparency-dev/safe-firm-installer/internal/medium"
	"k8s.io/klog/v2"
)

type options struct {
	Image           string
	DigestFile      string
	WriteDigest     bool
	Edition         string
	EditionFile     string
	EditionVerifier string
}

func cliParse(args []string) (opts options, err error) {
	app := kingpin.New("firmcheck", "Inspects and validates a FIRM image.")
	app.Flag("image", "FIRM image to check.").Required().StringVar(&opts.Image)
	app.Flag("digest_file", "Detached SHA-256 digest of the image. Defaults to --image with a .sha suffix.").StringVar(&opts.DigestFile)
	app.Flag("write_digest", "Write --digest_file for the image instead of checking against it.").BoolVar(&opts.WriteDigest)
	app.Flag("edition", "Built-in edition to classify the image with.").Default("retail").EnumVar(&opts.Edition, edition.Builtins...)
	app.Flag("edition_file", "YAML edition file, overrides --edition.").StringVar(&opts.EditionFile)
	app.Flag("edition_verifier", "File containing a note verifier key; --edition_file must be signed by it.").StringVar(&opts.EditionVerifier)

	if _, err := app.Parse(args); err != nil {
		return opts, fmt.Errorf("error: %w, try --help", err)
	}
	if opts.DigestFile == "" {
		opts.DigestFile = opts.Image + ".sha"
	}
	return opts, nil
}

func main() {
	opts, err := cliParse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(64)
	}
	ctx := context.Background()

	out, err := check(ctx, opts)
	fmt.Print(out)
	if err != nil {
		klog.Exitf("%s: %v", opts.Image, err)
	}
}

// check describes the image, then either writes its digest file or
// validates and classifies it.
func check(ctx context.Context, opts options) (string, error) {
	ed, err := edition.Select(opts.Edition, opts.EditionFile, opts.EditionVerifier)
	if err != nil {
		return "", err
	}

	img := make([]byte, firm.MaxSize)
	n, err := medium.ReadFile(ctx, medium.NewDir(filepath.Dir(opts.Image)), filepath.Base(opts.Image), img)
	if err != nil {
		return "", err
	}
	img = img[:n]

	var out bytes.Buffer
	h, err := firm.ParseHeader(img)
	if err != nil {
		return "", err
	}
	out.WriteString(describe(h, n))

	d := digest.SHA256.Sum(img)
	if opts.WriteDigest {
		if _, err := firm.ValidateHeader(img, n); err != nil {
			return out.String(), err
		}
		if err := os.WriteFile(opts.DigestFile, d[:], 0o644); err != nil {
			return out.String(), err
		}
		fmt.Fprintf(&out, "Wrote digest %x to %s\n", d, opts.DigestFile)
		return out.String(), nil
	}

	sha, err := os.ReadFile(opts.DigestFile)
	if err != nil {
		return out.String(), err
	}
	detached, ok := digest.FromBytes(sha)
	if !ok {
		return out.String(), fmt.Errorf("%s is %d bytes, want %d", opts.DigestFile, len(sha), digest.Size)
	}
	if err := firm.NewValidator(digest.SHA256).Validate(img, detached, n); err != nil {
		return out.String(), err
	}
	out.WriteString("Image valid\n")

	payload, err := classify(ed, img, n)
	if err != nil {
		return out.String(), err
	}
	fmt.Fprintf(&out, "Recognised by edition %q: %s\n", ed.Name, payload)
	return out.String(), nil
}

func classify(ed *edition.Edition, img []byte, n int) (string, error) {
	if err := firm.CheckSignature(img, ed.Fingerprints()); err != nil {
		return "", err
	}
	if len(ed.Trailers()) == 0 {
		return "known signature", nil
	}
	return firm.Classify(img, n, ed.Trailers())
}

func describe(h *firm.Header, n int) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Size:  0x%x\n", n)
	fmt.Fprintf(&b, "ARM11: 0x%08x (section %d)\n", h.EntryARM11, h.SectionFor(h.EntryARM11))
	fmt.Fprintf(&b, "ARM9:  0x%08x (section %d)\n", h.EntryARM9, h.SectionFor(h.EntryARM9))
	for i, s := range h.Sections {
		if s.Empty() {
			fmt.Fprintf(&b, "Section %d: empty\n", i)
			continue
		}
		fmt.Fprintf(&b, "Section %d: offset 0x%x address 0x%08x size 0x%x type %d sha256 %x\n", i, s.Offset, s.Address, s.Size, s.Type, s.Hash)
	}
	return b.String()
}
