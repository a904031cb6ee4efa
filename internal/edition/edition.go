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

// Package edition describes the device and firmware editions the installer
// supports: where its input files live, which fixed fingerprints identify
// valid inputs and how the flash is laid out.
package edition

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/transparency-dev/safe-firm-installer/digest"
	"github.com/transparency-dev/safe-firm-installer/firm"
	"github.com/transparency-dev/safe-firm-installer/internal/flash"
	"golang.org/x/mod/sumdb/note"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// Names of the partitions every edition must define.
const (
	PartitionFirm0        = "firm0"
	PartitionFirm1        = "firm1"
	PartitionSecretSector = "secret_sector"
)

// HexBytes is a byte string written in YAML as hex. Spaces and colons are
// ignored when parsing.
type HexBytes []byte

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (interface{}, error) {
	return hex.EncodeToString(h), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	s = strings.NewReplacer(" ", "", ":", "", "\n", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("line %d: %v", n.Line, err)
	}
	*h = b
	return nil
}

// Files holds the names of the files used on the medium.
type Files struct {
	Image        string `yaml:"image"`
	Digest       string `yaml:"digest"`
	SecretSector string `yaml:"secret_sector"`
	FirmBackup   string `yaml:"firm_backup"`
	SectorBackup string `yaml:"sector_backup"`
}

// Payload identifies a bootstrap payload by a trailer magic.
type Payload struct {
	Name          string `yaml:"name"`
	Magic         string `yaml:"magic"`
	OffsetFromEnd int    `yaml:"offset_from_end"`
	// Section selects the section whose end is used; the end of the image
	// is used if unset.
	Section *int `yaml:"section,omitempty"`
}

// Partition is the YAML form of a flash.Partition.
type Partition struct {
	Name    string        `yaml:"name"`
	Start   uint64        `yaml:"start"`
	Length  uint64        `yaml:"length"`
	Keyslot flash.Keyslot `yaml:"keyslot"`
}

// Edition is the configuration selecting the fixed values used by one
// installer variant.
type Edition struct {
	Name string `yaml:"name"`
	// Base names the built-in edition an edition file is layered on.
	Base string `yaml:"base,omitempty"`
	// MinInstallerVersion is the oldest installer allowed to use this
	// edition, as a semantic version.
	MinInstallerVersion string `yaml:"min_installer_version,omitempty"`

	Files Files `yaml:"files"`

	// SignatureFingerprints are the signature blocks of recognised images.
	SignatureFingerprints []HexBytes `yaml:"signature_fingerprints,omitempty"`
	// SecretSectorFingerprint is the SHA-256 of the expected secret sector.
	SecretSectorFingerprint HexBytes  `yaml:"secret_sector_fingerprint"`
	Payloads                []Payload `yaml:"payloads,omitempty"`

	Partitions   []Partition `yaml:"partitions"`
	MinFreeBytes uint64      `yaml:"min_free_bytes"`
}

const (
	firmBase    = 0x0B130000
	firmSlot    = 0x400000
	sectorIndex = 0x96
)

// retailSectorHash is the SHA-256 of the retail secret sector. The dev
// edition checks against the same value; a unit whose sector differs needs
// an edition file with its own secret_sector_fingerprint.
const retailSectorHash = "82F2730D2C2DA3F30165F987FDCCAC5CBAB24B4E5F65C981CD7BE6F438E6D9D3"

func builtin(name, suffix string) *Edition {
	sh, err := hex.DecodeString(retailSectorHash)
	if err != nil {
		panic(err)
	}
	return &Edition{
		Name: name,
		Files: Files{
			Image:        "boot9strap/boot9strap" + suffix + ".firm",
			Digest:       "boot9strap/boot9strap" + suffix + ".firm.sha",
			SecretSector: "boot9strap/secret_sector" + suffix + ".bin",
			FirmBackup:   "boot9strap/firm0firm1.bak",
			SectorBackup: "boot9strap/sector0x96.bak",
		},
		SecretSectorFingerprint: sh,
		Partitions: []Partition{
			{Name: PartitionFirm0, Start: firmBase, Length: firmSlot, Keyslot: 0x06},
			{Name: PartitionFirm1, Start: firmBase + firmSlot, Length: firmSlot, Keyslot: 0x06},
			{Name: PartitionSecretSector, Start: sectorIndex * firm.SecretSectorSize, Length: firm.SecretSectorSize, Keyslot: 0x11},
		},
		MinFreeBytes: 16 << 20,
	}
}

// Builtins lists the names of the built-in editions.
var Builtins = []string{"retail", "dev"}

// Builtin returns a built-in edition by name.
//
// Built-in editions carry no signature fingerprints or payload trailers;
// those come from an edition file layered on top.
func Builtin(name string) (*Edition, error) {
	switch name {
	case "retail":
		return builtin(name, ""), nil
	case "dev":
		return builtin(name, "_dev"), nil
	}
	return nil, fmt.Errorf("unknown edition %q", name)
}

// Parse parses an edition file.
//
// If v is non-nil the file must be a note signed by v, whose text is the
// YAML edition. The result is layered on the built-in edition named by its
// base field, if any, and validated.
func Parse(b []byte, v note.Verifier) (*Edition, error) {
	if v != nil {
		n, err := note.Open(b, note.VerifierList(v))
		if err != nil {
			return nil, fmt.Errorf("failed to verify edition: %v", err)
		}
		b = []byte(n.Text)
	}

	var head struct {
		Base string `yaml:"base"`
	}
	if err := yaml.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("failed to parse edition: %v", err)
	}
	e := &Edition{}
	if head.Base != "" {
		var err error
		if e, err = Builtin(head.Base); err != nil {
			return nil, err
		}
	}
	if err := yaml.Unmarshal(b, e); err != nil {
		return nil, fmt.Errorf("failed to parse edition: %v", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("Parsed edition %q (base %q)", e.Name, e.Base)
	return e, nil
}

// Load reads and parses the edition file at path.
func Load(path string, v note.Verifier) (*Edition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b, v)
}

// LoadVerifier reads a note verifier key from path.
func LoadVerifier(path string) (note.Verifier, error) {
	vs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read verifier key file %q: %v", path, err)
	}
	v, err := note.NewVerifier(strings.TrimSpace(string(vs)))
	if err != nil {
		return nil, fmt.Errorf("invalid note verifier string %q: %v", vs, err)
	}
	return v, nil
}

// Select returns the edition loaded from file if set, otherwise the named
// built-in. A non-empty verifierFile requires file to be a signed note.
func Select(name, file, verifierFile string) (*Edition, error) {
	if file == "" {
		return Builtin(name)
	}
	var v note.Verifier
	if verifierFile != "" {
		var err error
		if v, err = LoadVerifier(verifierFile); err != nil {
			return nil, err
		}
	}
	return Load(file, v)
}

// Validate checks that the edition is self-consistent.
func (e *Edition) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("invalid edition: no name")
	}
	for _, f := range []struct{ field, v string }{
		{"image", e.Files.Image},
		{"digest", e.Files.Digest},
		{"secret_sector", e.Files.SecretSector},
		{"firm_backup", e.Files.FirmBackup},
		{"sector_backup", e.Files.SectorBackup},
	} {
		if f.v == "" {
			return fmt.Errorf("invalid edition %q: no %s file", e.Name, f.field)
		}
	}
	if l := len(e.SecretSectorFingerprint); l != digest.Size {
		return fmt.Errorf("invalid edition %q: secret sector fingerprint is %d bytes, want %d", e.Name, l, digest.Size)
	}
	for i, fp := range e.SignatureFingerprints {
		if len(fp) != firm.SignatureSize {
			return fmt.Errorf("invalid edition %q: signature fingerprint %d is %d bytes, want %d", e.Name, i, len(fp), firm.SignatureSize)
		}
	}
	for i, p := range e.Payloads {
		if p.Name == "" || p.Magic == "" {
			return fmt.Errorf("invalid edition %q: payload %d needs a name and magic", e.Name, i)
		}
	}

	parts := make(map[string]Partition)
	for _, p := range e.Partitions {
		parts[p.Name] = p
	}
	for _, n := range []string{PartitionFirm0, PartitionFirm1, PartitionSecretSector} {
		if _, ok := parts[n]; !ok {
			return fmt.Errorf("invalid edition %q: missing partition %q", e.Name, n)
		}
	}
	if a, b := parts[PartitionFirm0].Length, parts[PartitionFirm1].Length; a != b {
		return fmt.Errorf("invalid edition %q: firmware slots differ in length (0x%x != 0x%x)", e.Name, a, b)
	}
	if l := parts[PartitionSecretSector].Length; l != firm.SecretSectorSize {
		return fmt.Errorf("invalid edition %q: secret sector partition is 0x%x bytes", e.Name, l)
	}

	if e.MinInstallerVersion != "" {
		if _, err := semver.NewVersion(e.MinInstallerVersion); err != nil {
			return fmt.Errorf("invalid edition %q: min_installer_version: %v", e.Name, err)
		}
	}
	return nil
}

// CheckInstallerVersion returns an error if the installer version v is
// older than the edition allows.
func (e *Edition) CheckInstallerVersion(v string) error {
	if e.MinInstallerVersion == "" {
		return nil
	}
	have, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid installer version %q: %v", v, err)
	}
	want, err := semver.NewVersion(e.MinInstallerVersion)
	if err != nil {
		return fmt.Errorf("invalid min_installer_version %q: %v", e.MinInstallerVersion, err)
	}
	if have.LessThan(*want) {
		return fmt.Errorf("edition %q needs installer %v or later, this is %v", e.Name, want, have)
	}
	return nil
}

// Map returns the validated flash partition map for a device of the given
// size.
func (e *Edition) Map(size uint64) (*flash.Map, error) {
	parts := make([]flash.Partition, 0, len(e.Partitions))
	for _, p := range e.Partitions {
		parts = append(parts, flash.Partition{
			Name:    p.Name,
			Start:   p.Start,
			Length:  p.Length,
			Keyslot: p.Keyslot,
		})
	}
	return flash.NewMap(parts, size)
}

// Fingerprints returns the signature fingerprints.
func (e *Edition) Fingerprints() [][]byte {
	r := make([][]byte, len(e.SignatureFingerprints))
	for i, f := range e.SignatureFingerprints {
		r[i] = f
	}
	return r
}

// Trailers returns the payload trailers.
func (e *Edition) Trailers() []firm.Trailer {
	r := make([]firm.Trailer, 0, len(e.Payloads))
	for _, p := range e.Payloads {
		t := firm.Trailer{
			Name:          p.Name,
			Magic:         []byte(p.Magic),
			OffsetFromEnd: p.OffsetFromEnd,
			Section:       -1,
		}
		if p.Section != nil {
			t.Section = *p.Section
		}
		r = append(r, t)
	}
	return r
}

// SectorDigest returns the secret sector fingerprint.
func (e *Edition) SectorDigest() digest.Digest {
	d, ok := digest.FromBytes(e.SecretSectorFingerprint)
	if !ok {
		panic(fmt.Errorf("edition %q was not validated", e.Name))
	}
	return d
}
