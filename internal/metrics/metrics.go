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

// Package metrics records what an install transaction did, for export as a
// Prometheus textfile once the run is over.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Targets of writes.
const (
	TargetFlash  = "flash"
	TargetMedium = "medium"
)

// Metrics holds the installer's metrics. A nil *Metrics records nothing.
type Metrics struct {
	bytesWritten   *prom.CounterVec
	verifyFailures *prom.CounterVec
	phaseSeconds   *prom.GaugeVec
	outcome        *prom.GaugeVec
}

// New creates the metrics and registers them with reg.
func New(reg prom.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		bytesWritten: f.NewCounterVec(prom.CounterOpts{
			Name: "firminstall_bytes_written_total",
			Help: "Number of bytes written and verified, by target and phase.",
		}, []string{"target", "phase"}),
		verifyFailures: f.NewCounterVec(prom.CounterOpts{
			Name: "firminstall_verify_failures_total",
			Help: "Number of writes whose read back did not match, by target.",
		}, []string{"target"}),
		phaseSeconds: f.NewGaugeVec(prom.GaugeOpts{
			Name: "firminstall_phase_seconds",
			Help: "Time spent in each phase of the last run.",
		}, []string{"phase"}),
		outcome: f.NewGaugeVec(prom.GaugeOpts{
			Name: "firminstall_outcome",
			Help: "Set to 1 for the outcome of the last run.",
		}, []string{"outcome"}),
	}
}

// BytesWritten records n bytes written and verified.
func (m *Metrics) BytesWritten(target, phase string, n int) {
	if m == nil {
		return
	}
	m.bytesWritten.WithLabelValues(target, phase).Add(float64(n))
}

// VerifyFailed records a failed write verification.
func (m *Metrics) VerifyFailed(target string) {
	if m == nil {
		return
	}
	m.verifyFailures.WithLabelValues(target).Inc()
}

// PhaseDone records the time spent in a phase.
func (m *Metrics) PhaseDone(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseSeconds.WithLabelValues(phase).Add(d.Seconds())
}

// Outcome records the outcome of the run.
func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.outcome.Reset()
	m.outcome.WithLabelValues(outcome).Set(1)
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format.
func WriteTextfile(path string, g prom.Gatherer) error {
	return prom.WriteToTextfile(path, g)
}
