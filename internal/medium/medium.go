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

// Package medium provides access to the removable medium holding the input
// files and receiving the backups.
package medium

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/machinebox/progress"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// File is an open file on a Store.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Size() (int64, error)
	Sync() error
}

// Store is a removable medium. Names are slash separated and relative to
// the root of the medium.
type Store interface {
	// Init makes the medium ready for use.
	Init() error
	// Space returns the free and total bytes on the medium.
	Space() (free, total uint64, err error)
	// Open opens an existing file for reading.
	Open(name string) (File, error)
	// Create creates or truncates a file for reading and writing.
	Create(name string) (File, error)
	Remove(name string) error
}

// Dir is a Store rooted at a directory, usually the mount point of the
// medium.
type Dir struct {
	root string
}

// NewDir returns a Store rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Init checks that the root is an accessible directory.
func (d *Dir) Init() error {
	fi, err := os.Stat(d.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%q is not a directory", d.root)
	}
	return nil
}

// Space implements Store.
func (d *Dir) Space() (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(d.root, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs(%q): %v", d.root, err)
	}
	bs := uint64(st.Bsize)
	return st.Bavail * bs, st.Blocks * bs, nil
}

func (d *Dir) path(name string) (string, error) {
	p := filepath.FromSlash(name)
	if !filepath.IsLocal(p) {
		return "", fmt.Errorf("name %q escapes the medium", name)
	}
	return filepath.Join(d.root, p), nil
}

// Open implements Store.
func (d *Dir) Open(name string) (File, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

// Create implements Store.
func (d *Dir) Create(name string) (File, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

// Remove implements Store.
func (d *Dir) Remove(name string) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

type osFile struct {
	*os.File
}

func (f osFile) Size() (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// ErrTooLarge is returned by ReadFile for files which do not fit the buffer.
var ErrTooLarge = errors.New("file too large")

// logProgressOver is the file size above which ReadFile logs its progress.
const logProgressOver = 1 << 20

// ReadFile reads the whole of the named file into buf, which must be large
// enough to hold it. Returns the number of bytes read.
func ReadFile(ctx context.Context, s Store, name string, buf []byte) (int, error) {
	f, err := s.Open(name)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return 0, err
	}
	if size > int64(len(buf)) {
		return 0, fmt.Errorf("%q is %d bytes, larger than %d: %w", name, size, len(buf), ErrTooLarge)
	}

	pr := progress.NewReader(io.NewSectionReader(f, 0, size))
	if size > logProgressOver {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			for p := range progress.NewTicker(ctx, pr, size, 1*time.Second) {
				klog.Infof("Reading %q: %d%%, %v remaining...", name, int(p.Percent()), p.Remaining().Round(time.Second))
			}
		}()
	}
	n, err := io.ReadFull(pr, buf[:size])
	if err != nil {
		return n, fmt.Errorf("reading %q: %w", name, err)
	}
	klog.V(1).Infof("Read %q (%d bytes)", name, n)
	return n, nil
}
