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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	m := New(reg)

	m.BytesWritten(TargetMedium, "backup", 0x400000)
	m.BytesWritten(TargetMedium, "backup", 0x400000)
	m.BytesWritten(TargetFlash, "install", 0x1000)
	m.VerifyFailed(TargetFlash)
	m.PhaseDone("backup", 1500*time.Millisecond)
	m.Outcome("success")
	m.Outcome("rolled back")

	for _, test := range []struct {
		c    prom.Collector
		want float64
	}{
		{m.bytesWritten.WithLabelValues(TargetMedium, "backup"), 0x800000},
		{m.bytesWritten.WithLabelValues(TargetFlash, "install"), 0x1000},
		{m.verifyFailures.WithLabelValues(TargetFlash), 1},
		{m.phaseSeconds.WithLabelValues("backup"), 1.5},
		{m.outcome.WithLabelValues("rolled back"), 1},
	} {
		if got := testutil.ToFloat64(test.c); got != test.want {
			t.Errorf("Got %v, want %v", got, test.want)
		}
	}
	if got := testutil.CollectAndCount(m.outcome); got != 1 {
		t.Errorf("Got %d outcomes, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.BytesWritten(TargetFlash, "install", 1)
	m.VerifyFailed(TargetFlash)
	m.PhaseDone("install", time.Second)
	m.Outcome("success")
}

func TestWriteTextfile(t *testing.T) {
	reg := prom.NewRegistry()
	New(reg).Outcome("success")

	path := filepath.Join(t.TempDir(), "firminstall.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := `firminstall_outcome{outcome="success"} 1`; !strings.Contains(string(b), want) {
		t.Fatalf("Textfile missing %q:\n%s", want, b)
	}
}
