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

package bootenv

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestEnvironment(t *testing.T) {
	for _, test := range []struct {
		env                 Environment
		wantHack, wantFile bool
	}{
		{env: Environment{}},
		{env: Environment{A9LH: true}, wantHack: true, wantFile: true},
		{env: Environment{A9LH: true, LegacyModel: true}, wantHack: true},
		{env: Environment{A9LH: true, Sighax: true}},
		{env: Environment{Sighax: true, LegacyModel: true}},
	} {
		t.Run(test.env.String(), func(t *testing.T) {
			c := qt.New(t)
			c.Assert(test.env.HackInstalled(), qt.Equals, test.wantHack)
			c.Assert(test.env.SectorRequired(), qt.Equals, test.wantFile)
		})
	}
}

func TestParse(t *testing.T) {
	for _, test := range []struct {
		name    string
		ini     string
		want    Environment
		wantErr bool
	}{
		{
			name: "empty",
		}, {
			name: "a9lh on legacy model",
			ini:  "[boot]\na9lh = true\nsighax = false\n\n[device]\nlegacy_model = yes\n",
			want: Environment{A9LH: true, LegacyModel: true},
		}, {
			name: "sighax",
			ini:  "[boot]\nsighax = 1\n",
			want: Environment{Sighax: true},
		}, {
			name:    "not a bool",
			ini:     "[boot]\na9lh = maybe\n",
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := qt.New(t)
			got, err := Parse([]byte(test.ini))
			if test.wantErr {
				c.Assert(err, qt.ErrorMatches, `\[boot\] a9lh: .*`)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(got, qt.Equals, test.want)
		})
	}
}

func TestFileProbe(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "bootenv.ini")
	c.Assert(os.WriteFile(path, []byte("[boot]\na9lh = true\n"), 0o600), qt.IsNil)

	got, err := File(path).Probe()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, Environment{A9LH: true})

	_, err = File(filepath.Join(t.TempDir(), "missing.ini")).Probe()
	c.Assert(err, qt.ErrorMatches, `cannot load .*`)
}
