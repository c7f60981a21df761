// Copyright 2025 Tom Barlow
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

// Package workspace is the on-disk idempotency oracle: one directory per
// (user, normalized problem id) holding every artifact a stage produces.
// A stage decides whether it has already run by checking for the file the
// previous run of that stage would have written, not by trusting a status
// field, so a crash mid-stage never produces a half-written artifact that
// looks complete.
package workspace

import "time"

// Sample is one input/expected-output pair carried inline in a Statement.
type Sample struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

// Limits are the judge's resource constraints for a problem.
type Limits struct {
	TimeMS    int `json:"time_ms,omitempty"`
	MemoryMB  int `json:"memory_mb,omitempty"`
}

// Statement is the canonical, adapter-independent problem statement, as
// recorded in statement.json.
type Statement struct {
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	InputFormat  string    `json:"input_format,omitempty"`
	OutputFormat string    `json:"output_format,omitempty"`
	Samples      []Sample  `json:"samples"`
	Limits       Limits    `json:"limits"`
	Tags         []string  `json:"tags,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Receipt is an upload adapter's acknowledgement, recorded in
// upload/receipt_<adapter>.json.
type Receipt struct {
	Adapter    string    `json:"adapter"`
	RealID     string    `json:"real_id"`
	URL        string    `json:"url,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Workspace identifies and locates one problem's artifact directory.
type Workspace struct {
	Root string // <store_root>/<user>/<normalized_pid>
	User string
	PID  string
}
