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

// Package stage implements the four Stage Executors: Fetch, Generate,
// Upload, Solve. Each is a function over a ProblemCtx that reads and
// writes the problem's Workspace and returns a StageResult, with no
// knowledge of the Pipeline Runner's retry or skip bookkeeping beyond the
// idempotency predicates the Workspace Store itself exposes.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/config"
	"github.com/Inkotake/ojo-agent/internal/llmpool"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/store"
	"github.com/Inkotake/ojo-agent/internal/workspace"
)

// ProblemCtx is the fixed input every stage executor receives, matching
// spec.md §4.5's `{user_id, workspace, adapters, llm_pool, cancel, emit}`
// (cancel is the ctx.Context parameter Run already takes).
type ProblemCtx struct {
	UserID    string
	RawRef    string
	Workspace workspace.Workspace
	Adapters  *capability.Registry
	LLMPool   *llmpool.Pool
	Config    config.StageConfig
	Logger    *slog.Logger

	// Credentials resolves a per-user, per-adapter AdapterConfig blob
	// (base_url, domain, cookies, tokens). Nil is valid: stages that need
	// it treat a nil store or a missing record as an empty AdapterConfig.
	Credentials store.CredentialStore

	// TaskID and ProblemID identify the task and normalized problem this
	// context serves, for attributing llmpool cost records back to a
	// tasks.get(user, id) result.
	TaskID    string
	ProblemID string

	// Stage is the current stage executor's name (fetch, generate,
	// upload, solve), threaded into llmpool.CallOptions for cost
	// attribution.
	Stage string

	// SourceAdapter names the adapter Fetch reads from.
	SourceAdapter string

	// UploadAdapter names the adapter Upload/Solve target.
	UploadAdapter string

	// RealID is the judge-side problem id Upload resolved; Solve's
	// precondition. The Pipeline Runner fills this in from either the
	// current run's Upload result or a prior receipt.
	RealID string

	// Emit reports a progress event; nil is a valid no-op emitter.
	Emit func(kind problem.ProgressEventKind, message string)
}

func (pc ProblemCtx) emit(kind problem.ProgressEventKind, format string, args ...any) {
	if pc.Emit == nil {
		return
	}
	pc.Emit(kind, fmt.Sprintf(format, args...))
}

func (pc ProblemCtx) logger() *slog.Logger {
	if pc.Logger != nil {
		return pc.Logger
	}
	return slog.Default()
}

// callOpts builds the llmpool.CallOptions identifying fields shared by
// every LLM call this stage makes, so cost records attribute back to the
// task/problem/stage that issued them.
func (pc ProblemCtx) callOpts() llmpool.CallOptions {
	return llmpool.CallOptions{TaskID: pc.TaskID, ProblemID: pc.ProblemID, Stage: pc.Stage}
}

// adapterConfig reads and decodes adapterName's AdapterConfig for the
// calling user, read fresh rather than cached per spec.md's AdapterConfig
// contract. A nil Credentials store, a missing record, or a malformed
// blob all yield a zero AdapterConfig rather than an error: config is an
// enrichment (URL formation), never a precondition for a stage to run.
func (pc ProblemCtx) adapterConfig(ctx context.Context, adapterName string) capability.AdapterConfig {
	var cfg capability.AdapterConfig
	if pc.Credentials == nil {
		return cfg
	}
	blob, err := pc.Credentials.GetCredential(ctx, adapterName, pc.UserID)
	if err != nil {
		return cfg
	}
	_ = json.Unmarshal(blob, &cfg)
	return cfg
}

// StageResult is what every stage executor returns on success.
type StageResult struct {
	// Skipped is true when the idempotency oracle short-circuited the
	// stage: no adapter or LLM call was made.
	Skipped bool

	// Warning carries a non-fatal note, e.g. Generate's partial-success
	// message.
	Warning string

	// RealID is set by Upload (and echoed by Solve) once the judge-side
	// id is known.
	RealID string

	// URL is the judge-facing URL for RealID, set by Upload whenever one
	// could be formed (adapter-supplied or base_url/domain template).
	URL string
}
