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

// Package api holds the types shared between the installer core and the
// collaborators which present its progress to an operator.
package api

import (
	"bytes"
	"fmt"
	"strings"
)

// Severity classifies a status line.
type Severity int

const (
	SeverityNeutral Severity = iota
	SeverityOK
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityNeutral:
		return "neutral"
	case SeverityOK:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	panic(fmt.Errorf("Unknown Severity %d", int(s)))
}

// Step identifies one of the checkpoints reported to the operator.
type Step int

const (
	StepEnvironment Step = iota
	StepMedium
	StepImage
	StepSecretSector
	StepCrypto
	StepBackup
	StepInstall

	// NumSteps is the number of checkpoints in a Report.
	NumSteps = int(StepInstall) + 1
)

func (s Step) String() string {
	switch s {
	case StepEnvironment:
		return "Boot hack"
	case StepMedium:
		return "Medium"
	case StepImage:
		return "FIRM image"
	case StepSecretSector:
		return "Secret sector"
	case StepCrypto:
		return "Crypto status"
	case StepBackup:
		return "Backup status"
	case StepInstall:
		return "Install status"
	}
	panic(fmt.Errorf("Unknown Step %d", int(s)))
}

// StatusLine is the operator-facing state of a single Step.
type StatusLine struct {
	Step     Step
	Message  string
	Severity Severity
}

// Phase is the state of an install transaction.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCheckEnvironment
	PhaseCheckMedium
	PhaseLoadImage
	PhaseLoadSecretSector
	PhaseCryptoSelfTest
	PhaseAwaitConfirmation
	PhaseBackup
	PhaseInstall
	PhaseRollback
	PhaseSuccess
	PhaseAborted
	PhaseRolledBack
	PhaseFatal
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseCheckEnvironment:
		return "check-environment"
	case PhaseCheckMedium:
		return "check-medium"
	case PhaseLoadImage:
		return "load-image"
	case PhaseLoadSecretSector:
		return "load-secret-sector"
	case PhaseCryptoSelfTest:
		return "crypto-self-test"
	case PhaseAwaitConfirmation:
		return "await-confirmation"
	case PhaseBackup:
		return "backup"
	case PhaseInstall:
		return "install"
	case PhaseRollback:
		return "rollback"
	case PhaseSuccess:
		return "success"
	case PhaseAborted:
		return "aborted"
	case PhaseRolledBack:
		return "rolled-back"
	case PhaseFatal:
		return "fatal"
	}
	panic(fmt.Errorf("Unknown Phase %d", int(p)))
}

// Terminal returns true for phases which end a transaction.
func (p Phase) Terminal() bool {
	return p >= PhaseSuccess
}

// Outcome is the overall result of a transaction.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	// OutcomeAborted means the run stopped before any flash write happened.
	OutcomeAborted
	// OutcomeRolledBack means the install failed and every touched region
	// was restored from the verified backup.
	OutcomeRolledBack
	// OutcomeFatal means a restore failed and flash contents are
	// indeterminate.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeAborted:
		return "safe abort"
	case OutcomeRolledBack:
		return "rolled back"
	case OutcomeFatal:
		return "FATAL"
	}
	panic(fmt.Errorf("Unknown Outcome %d", int(o)))
}

// Report is the state of a transaction as seen by the operator.
type Report struct {
	Phase   Phase
	Lines   [NumSteps]StatusLine
	Outcome Outcome
	// Reason explains a non-successful Outcome.
	Reason string
}

// NewReport returns a Report with every line "not started".
func NewReport() *Report {
	r := &Report{}
	for i := range r.Lines {
		r.Lines[i] = StatusLine{
			Step:     Step(i),
			Message:  "not started",
			Severity: SeverityNeutral,
		}
	}
	return r
}

// Line returns the status line for the given step.
func (r *Report) Line(s Step) StatusLine {
	return r.Lines[s]
}

// Set updates the status line for the given step.
func (r *Report) Set(s Step, sev Severity, format string, args ...interface{}) {
	r.Lines[s] = StatusLine{
		Step:     s,
		Message:  fmt.Sprintf(format, args...),
		Severity: sev,
	}
}

// Print returns the report in textual format.
func (r *Report) Print() string {
	var status bytes.Buffer

	status.WriteString("------------------------------------------------ Safe FIRM Installer ----\n")
	for _, l := range r.Lines {
		status.WriteString(fmt.Sprintf("%s%-9s %s\n", field(l.Step.String()), "["+l.Severity.String()+"]", l.Message))
	}
	status.WriteString(fmt.Sprintf("%s%s\n", field("Phase"), r.Phase))
	status.WriteString(fmt.Sprintf("%s%s", field("Outcome"), r.Outcome))
	if r.Reason != "" {
		status.WriteString(fmt.Sprintf("\n%s%s", field("Reason"), r.Reason))
	}

	return status.String()
}

// field pads label with dots, e.g. "Phase ..................: ".
func field(label string) string {
	const width = 24
	n := width - len(label) - 1
	if n < 2 {
		n = 2
	}
	return label + " " + strings.Repeat(".", n) + ": "
}
