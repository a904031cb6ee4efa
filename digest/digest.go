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

// Package digest provides the hashing primitive used to validate images and
// to verify every write made by the installer.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Size is the length in bytes of a digest.
const Size = sha256.Size

// Digest is the output of a Service.
type Digest [Size]byte

// Service computes and compares digests.
type Service interface {
	// Sum returns the digest of b.
	Sum(b []byte) Digest
	// Equal compares two digests in constant time.
	Equal(a, b Digest) bool
}

// SHA256 is the Service used on real devices.
var SHA256 Service = sha256Service{}

type sha256Service struct{}

func (sha256Service) Sum(b []byte) Digest {
	return sha256.Sum256(b)
}

func (sha256Service) Equal(a, b Digest) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// FromBytes converts a digest stored as a byte slice, e.g. read from a
// sidecar file. It returns false if b has the wrong length.
func FromBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != Size {
		return d, false
	}
	copy(d[:], b)
	return d, true
}
