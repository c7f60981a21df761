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

// Package problem holds the core entity types shared across the engine:
// Task, Problem, ConcurrencyConfig and ProgressEvent.
package problem

import (
	"time"

	"github.com/Inkotake/ojo-agent/internal/util"
)

// Stage identifies one of the four lifecycle stages.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageGenerate Stage = "generate"
	StageUpload   Stage = "upload"
	StageSolve    Stage = "solve"
)

// Stages is the fixed stage order, outer-to-inner.
var Stages = []Stage{StageFetch, StageGenerate, StageUpload, StageSolve}

// Status is a Problem's or Task's lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusFetching   Status = "fetching"
	StatusGenerating Status = "generating"
	StatusUploading  Status = "uploading"
	StatusSolving    Status = "solving"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRunning    Status = "running"
	StatusFailed     Status = "failed"
)

// FailedStageStatus returns the terminal failure status for a stage,
// e.g. "failed_fetch".
func FailedStageStatus(s Stage) Status {
	return Status("failed_" + string(s))
}

// IsTerminal reports whether a Problem status accepts no further
// transitions without an explicit user-initiated retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	}
	return len(s) > len("failed_") && s[:len("failed_")] == "failed_"
}

// Task is one submission by a user: a batch of Problems admitted together
// under the same enabled-stage set, target adapter and LLM provider choice.
type Task struct {
	ID            string    `json:"id"`
	OwningUserID  string    `json:"owning_user_id"`
	ProblemRefs   []ProblemRef `json:"problem_refs"`
	EnabledStages []Stage   `json:"enabled_stages"`
	UploadAdapter string    `json:"upload_adapter,omitempty"`
	GenProvider   string    `json:"gen_provider,omitempty"`
	SolveProvider string    `json:"solve_provider,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProblemRef is a raw problem reference plus an optional source-adapter
// hint, as submitted in a Task request.
type ProblemRef struct {
	Raw         string `json:"raw"`
	SourceHint  string `json:"source_hint,omitempty"`
}

// EnablesStage reports whether the task's enabled-stage set includes s.
func (t Task) EnablesStage(s Stage) bool {
	return util.Contains(t.EnabledStages, s)
}

// NormalizeUploadImpliesSolve enforces the invariant that enabling Upload
// implies enabling Solve unless the caller explicitly cleared Solve.
func (t *Task) NormalizeUploadImpliesSolve(solveExplicitlyCleared bool) {
	if solveExplicitlyCleared {
		return
	}
	if t.EnablesStage(StageUpload) && !t.EnablesStage(StageSolve) {
		t.EnabledStages = append(t.EnabledStages, StageSolve)
	}
}

// Problem is one contest problem moving through the four-stage lifecycle
// under a single Task.
type Problem struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	OwningUserID  string    `json:"owning_user_id"`
	NormalizedID  string    `json:"normalized_id"`
	RawRef        string    `json:"raw_ref"`
	SourceAdapter string    `json:"source_adapter"`
	Status        Status    `json:"status"`
	CurrentStage  Stage     `json:"current_stage,omitempty"`
	Attempt       int       `json:"attempt"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	OwnerWorker   string    `json:"owner_worker,omitempty"`

	// RealID is the judge-side problem id Upload resolved, empty until
	// Upload completes successfully.
	RealID string `json:"real_id,omitempty"`

	// UploadedURL is the judge-facing URL for RealID, formed as
	// {base_url}/d/{domain}/p/{real_id} or the adapter-declared template.
	// Set iff Upload completed successfully and RealID is known.
	UploadedURL string `json:"uploaded_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConcurrencyConfig is the named integer limit table for internal/gate,
// mirrored here so it can travel with a Task/store record.
type ConcurrencyConfig struct {
	GlobalTasks    int           `json:"global_tasks"`
	PerUser        int           `json:"per_user"`
	StageFetch     int           `json:"stage_fetch"`
	StageUpload    int           `json:"stage_upload"`
	StageSolve     int           `json:"stage_solve"`
	LLMTotal       int           `json:"llm_total"`
	LLMPerProvider int           `json:"llm_per_provider"`
	Queue          int           `json:"queue"`
	TaskTimeout    time.Duration `json:"task_timeout"`
}

// ProgressEventKind enumerates the five event kinds on the Event Bus.
type ProgressEventKind string

const (
	EventStageStarted   ProgressEventKind = "stage_started"
	EventStageCompleted ProgressEventKind = "stage_completed"
	EventStageFailed    ProgressEventKind = "stage_failed"
	EventProblemDone    ProgressEventKind = "problem_done"
	EventTaskDone       ProgressEventKind = "task_done"
)

// ProgressEvent is one message on the single in-process progress topic.
type ProgressEvent struct {
	Kind      ProgressEventKind `json:"kind"`
	TaskID    string            `json:"task_id"`
	ProblemID string            `json:"problem_id"`
	Stage     Stage             `json:"stage,omitempty"`
	Message   string            `json:"message,omitempty"`
	At        time.Time         `json:"at"`
}
