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

package firm

import (
	"bytes"

	"github.com/transparency-dev/safe-firm-installer/api"
)

// Trailer identifies a payload by a short magic string stored at a fixed
// distance before the end of the image or of one of its sections.
type Trailer struct {
	// Name is reported when the trailer matches.
	Name string
	Magic []byte
	// OffsetFromEnd is the distance from the end to the first byte of Magic.
	OffsetFromEnd int
	// Section selects the section whose end is used; negative values use
	// the end of the image.
	Section int
}

// CheckTrailerMagic checks that t matches the image of the given size in img.
func CheckTrailerMagic(img []byte, size int, t Trailer) error {
	if size > len(img) {
		return api.Errorf(api.FormatInvalid, "size 0x%x exceeds data 0x%x", size, len(img))
	}
	end := size
	if t.Section >= 0 {
		if t.Section >= NumSections {
			return api.Errorf(api.FingerprintNotRecognized, "no section %d", t.Section)
		}
		h, err := ParseHeader(img)
		if err != nil {
			return err
		}
		s := h.Sections[t.Section]
		if s.Empty() || s.End() > uint64(size) {
			return api.Errorf(api.FingerprintNotRecognized, "section %d unusable", t.Section)
		}
		end = int(s.End())
	}

	start := end - t.OffsetFromEnd
	if len(t.Magic) == 0 || start < 0 || start+len(t.Magic) > end {
		return api.Errorf(api.FingerprintNotRecognized, "%s magic out of range", t.Name)
	}
	if !bytes.Equal(img[start:start+len(t.Magic)], t.Magic) {
		return api.Errorf(api.FingerprintNotRecognized, "not %s", t.Name)
	}
	return nil
}

// Classify returns the name of the first trailer matching the image.
func Classify(img []byte, size int, trailers []Trailer) (string, error) {
	for _, t := range trailers {
		if err := CheckTrailerMagic(img, size, t); err == nil {
			return t.Name, nil
		}
	}
	return "", api.Errorf(api.FingerprintNotRecognized, "payload unknown")
}
