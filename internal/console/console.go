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

// Package console presents the progress of an install transaction on a
// terminal.
package console

import (
	"io"

	"github.com/cheggaaa/pb/v3"
	"github.com/transparency-dev/safe-firm-installer/api"
	"k8s.io/klog/v2"
)

// Console logs status line changes and draws a progress bar for long
// running tasks.
type Console struct {
	w    io.Writer
	bars bool

	last *api.Report
	task string
	bar  *pb.ProgressBar
}

// New returns a Console drawing bars on w if bars is set.
func New(w io.Writer, bars bool) *Console {
	return &Console{w: w, bars: bars}
}

// Update logs the status lines which changed since the last update.
func (c *Console) Update(r api.Report) {
	for _, l := range changed(c.last, &r) {
		switch l.Severity {
		case api.SeverityError:
			klog.Errorf("%v: %s", l.Step, l.Message)
		case api.SeverityWarning:
			klog.Warningf("%v: %s", l.Step, l.Message)
		default:
			klog.Infof("%v: %s", l.Step, l.Message)
		}
	}
	if c.last == nil || c.last.Phase != r.Phase {
		klog.V(1).Infof("Phase %v", r.Phase)
	}
	c.last = &r
}

// Progress reports done of total bytes of task.
func (c *Console) Progress(task string, done, total int64) {
	if !c.bars {
		return
	}
	if c.bar == nil || task != c.task {
		c.finish()
		c.task = task
		c.bar = pb.New64(total).SetWriter(c.w).Set(pb.Bytes, true).Set("prefix", task+" ")
		c.bar.Start()
	}
	c.bar.SetCurrent(done)
	if done >= total {
		c.finish()
	}
}

// Close finishes any bar in progress.
func (c *Console) Close() {
	c.finish()
}

func (c *Console) finish() {
	if c.bar != nil {
		c.bar.Finish()
		c.bar = nil
		c.task = ""
	}
}

// changed returns the lines of next which differ from prev.
func changed(prev, next *api.Report) []api.StatusLine {
	var r []api.StatusLine
	for i, l := range next.Lines {
		if prev == nil || prev.Lines[i] != l {
			r = append(r, l)
		}
	}
	return r
}
