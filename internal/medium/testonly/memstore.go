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

// Package testonly provides an in-memory medium for tests.
package testonly

import (
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/transparency-dev/safe-firm-installer/internal/medium"
)

// MemStore is an in-memory medium.Store.
type MemStore struct {
	mu    sync.Mutex
	files map[string]*memFile

	// Free and Total are reported by Space.
	Free, Total uint64
	// InitErr is returned by Init.
	InitErr error
	// CorruptReads lists files whose reads return data with one bit flipped.
	CorruptReads map[string]bool
	// FailWrites lists files whose writes fail with the given error.
	FailWrites map[string]error
}

// NewMemStore returns an empty MemStore with 64MB free of 128MB.
func NewMemStore() *MemStore {
	return &MemStore{
		files:        make(map[string]*memFile),
		Free:         64 << 20,
		Total:        128 << 20,
		CorruptReads: make(map[string]bool),
		FailWrites:   make(map[string]error),
	}
}

// Put stores a file.
func (s *MemStore) Put(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = &memFile{s: s, name: name, data: append([]byte{}, data...)}
}

// Get returns the contents of a file, or nil if it does not exist.
func (s *MemStore) Get(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return nil
	}
	return append([]byte{}, f.data...)
}

// Exists returns true if the named file exists.
func (s *MemStore) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

// Init implements medium.Store.
func (s *MemStore) Init() error {
	return s.InitErr
}

// Space implements medium.Store.
func (s *MemStore) Space() (uint64, uint64, error) {
	return s.Free, s.Total, nil
}

// Open implements medium.Store.
func (s *MemStore) Open(name string) (medium.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}

// Create implements medium.Store.
func (s *MemStore) Create(name string) (medium.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &memFile{s: s, name: name}
	s.files[name] = f
	return f, nil
}

// Remove implements medium.Store.
func (s *MemStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(s.files, name)
	return nil
}

type memFile struct {
	s    *MemStore
	name string
	data []byte
}

func (f *memFile) ReadAt(b []byte, off int64) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(b, f.data[off:])
	if f.s.CorruptReads[f.name] && n > 0 {
		b[n/2] ^= 0x01
	}
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(b []byte, off int64) (int, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if err := f.s.FailWrites[f.name]; err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(b)); end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	return copy(f.data[off:], b), nil
}

func (f *memFile) Size() (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return int64(len(f.data)), nil
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }
