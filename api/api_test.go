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

package api

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewReport(t *testing.T) {
	r := NewReport()
	for i := 0; i < NumSteps; i++ {
		want := StatusLine{Step: Step(i), Message: "not started", Severity: SeverityNeutral}
		if diff := cmp.Diff(r.Line(Step(i)), want); diff != "" {
			t.Errorf("line %d diff: %s", i, diff)
		}
	}
	if r.Outcome != OutcomePending {
		t.Errorf("Got outcome %v, want %v", r.Outcome, OutcomePending)
	}
}

func TestReportPrint(t *testing.T) {
	r := NewReport()
	r.Set(StepMedium, SeverityOK, "%dMB/%dMB free", 100, 200)
	r.Phase = PhaseAborted
	r.Outcome = OutcomeAborted
	r.Reason = "cancelled by user"

	got := r.Print()
	for _, want := range []string{
		"Medium .................: [ok]      100MB/200MB free\n",
		"Install status .........: [neutral] not started\n",
		"Phase ..................: aborted\n",
		"Outcome ................: safe abort\n",
		"Reason .................: cancelled by user",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Print() missing %q in:\n%s", want, got)
		}
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("loading image: %w", Errorf(DigestMismatch, "section %d hash mismatch", 2))

	if !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("errors.Is(%v, ErrDigestMismatch) = false", err)
	}
	if errors.Is(err, ErrFormatInvalid) {
		t.Errorf("errors.Is(%v, ErrFormatInvalid) = true", err)
	}
	if got, want := CodeOf(err), DigestMismatch; got != want {
		t.Errorf("CodeOf() = %v, want %v", got, want)
	}
	if got, want := ReasonOf(err), "section 2 hash mismatch"; got != want {
		t.Errorf("ReasonOf() = %q, want %q", got, want)
	}
	if got, want := CodeOf(io.EOF), ErrorCodeNone; got != want {
		t.Errorf("CodeOf(io.EOF) = %v, want %v", got, want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	err := Wrap(StorageUnavailable, io.ErrUnexpectedEOF, "file not found")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("errors.Is(%v, io.ErrUnexpectedEOF) = false", err)
	}
	if got, want := err.Error(), "STORAGE_UNAVAILABLE: file not found: unexpected EOF"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPhaseTerminal(t *testing.T) {
	for p := PhaseInit; p <= PhaseFatal; p++ {
		want := p == PhaseSuccess || p == PhaseAborted || p == PhaseRolledBack || p == PhaseFatal
		if got := p.Terminal(); got != want {
			t.Errorf("%v.Terminal() = %t, want %t", p, got, want)
		}
	}
}
