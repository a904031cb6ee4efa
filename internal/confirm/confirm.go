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

// Package confirm collects the operator's acknowledgement before the
// installer does anything irreversible.
package confirm

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goombaio/namegenerator"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

// Gate blocks until the operator supplies token or declines.
type Gate interface {
	// Confirm returns true only if the operator acknowledged prompt and
	// supplied token.
	Confirm(ctx context.Context, prompt, token string) (bool, error)
}

// GateFunc adapts a function to a Gate.
type GateFunc func(ctx context.Context, prompt, token string) (bool, error)

// Confirm implements Gate.
func (f GateFunc) Confirm(ctx context.Context, prompt, token string) (bool, error) {
	return f(ctx, prompt, token)
}

// NewToken returns a random unlock phrase, e.g. "silent-firefly".
func NewToken() string {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Errorf("failed to read random seed: %v", err))
	}
	ng := namegenerator.NewNameGenerator(int64(binary.LittleEndian.Uint64(seed[:])))
	return ng.Generate()
}

// LineReader reads one line of operator input at a time.
// *term.Terminal is a LineReader.
type LineReader interface {
	ReadLine() (string, error)
}

// Sequence runs the two step acknowledgement: the operator must first type
// "yes", then the unlock phrase token. An empty line, "n", "no" or the end
// of input declines.
func Sequence(ctx context.Context, r LineReader, w io.Writer, prompt, token string) (bool, error) {
	read := func() (string, bool, error) {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		l, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return strings.TrimSpace(l), true, nil
	}

	fmt.Fprintf(w, "%s\n\nType \"yes\" to continue, or press Enter to cancel.\n", prompt)
	l, ok, err := read()
	if err != nil || !ok {
		return false, err
	}
	switch strings.ToLower(l) {
	case "yes":
	case "", "n", "no":
		return false, nil
	default:
		fmt.Fprintf(w, "Expected \"yes\", got %q.\n", l)
		return false, nil
	}

	fmt.Fprintf(w, "Type the unlock phrase %q to start.\n", token)
	l, ok, err = read()
	if err != nil || !ok {
		return false, err
	}
	if l != token {
		fmt.Fprintln(w, "Unlock phrase does not match.")
		return false, nil
	}
	return true, nil
}

// Terminal is a Gate reading from the operator's terminal.
type Terminal struct {
	in  *os.File
	out io.Writer
}

// NewTerminal returns a Gate reading from in and prompting on out.
func NewTerminal(in *os.File, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

// Confirm implements Gate.
//
// When in is a terminal it is put in raw mode for the duration. Raw mode
// delivers the interrupt key as input rather than a signal; it ends input
// and declines, as does Ctrl-D or an empty line.
func (t *Terminal) Confirm(ctx context.Context, prompt, token string) (bool, error) {
	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		klog.V(1).Info("Input is not a terminal, reading lines")
		return Sequence(ctx, lines{bufio.NewReader(t.in)}, t.out, prompt, token)
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return false, fmt.Errorf("failed to set terminal to raw mode: %v", err)
	}
	defer func() {
		if err := term.Restore(fd, old); err != nil {
			klog.Warningf("Failed to restore terminal: %v", err)
		}
	}()

	tt := newLineEditor(t.in, t.out)
	return Sequence(ctx, tt, tt, prompt, token)
}

// keyInterrupt is the byte sent by Ctrl-C in raw mode.
const keyInterrupt = 0x03

// newLineEditor returns a line editor reading raw keys from r.
func newLineEditor(r io.Reader, w io.Writer) *term.Terminal {
	return term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{interruptReader{r}, w}, "> ")
}

// interruptReader ends input at the first interrupt key.
type interruptReader struct {
	r io.Reader
}

func (i interruptReader) Read(b []byte) (int, error) {
	n, err := i.r.Read(b)
	if k := bytes.IndexByte(b[:n], keyInterrupt); k >= 0 {
		klog.V(1).Info("Interrupt key at confirmation prompt")
		return k, io.EOF
	}
	return n, err
}

type lines struct {
	r *bufio.Reader
}

func (l lines) ReadLine() (string, error) {
	s, err := l.r.ReadString('\n')
	if err == io.EOF && s != "" {
		return s, nil
	}
	return strings.TrimRight(s, "\r\n"), err
}
