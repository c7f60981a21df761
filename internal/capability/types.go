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

// Package capability defines the uniform interface judge adapters
// implement, and the registry the engine uses to resolve one by name or
// by capability without knowing its wire protocol.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Capability is one unit of behavior an Adapter may declare.
type Capability string

const (
	CapFetch         Capability = "fetch"
	CapUpload        Capability = "upload"
	CapSubmit        Capability = "submit"
	CapJudgeStatus   Capability = "judge-status"
	CapBatchFetch    Capability = "batch-fetch"
	CapListTraining  Capability = "list-training"
	CapProvideSolution Capability = "provide-solution"
)

// Verdict is a judge's terminal or in-progress result for a submission.
type Verdict string

const (
	VerdictPending       Verdict = "pending"
	VerdictAccepted      Verdict = "accepted"
	VerdictWrongAnswer   Verdict = "wrong_answer"
	VerdictRuntimeError  Verdict = "runtime_error"
	VerdictTimeLimit     Verdict = "time_limit"
	VerdictMemoryLimit   Verdict = "memory_limit"
	VerdictCompileError  Verdict = "compile_error"
)

// IsTerminal reports whether a verdict will not change with further
// polling.
func (v Verdict) IsTerminal() bool {
	return v != VerdictPending
}

// Sample is one input/expected-output pair as returned by an adapter.
type Sample struct {
	In  string
	Out string
}

// Limits are a problem's judge-enforced resource constraints.
type Limits struct {
	TimeMS   int
	MemoryMB int
}

// Statement is the adapter-independent problem statement FetchProblem
// returns.
type Statement struct {
	Title        string
	Body         string
	InputFormat  string
	OutputFormat string
	Samples      []Sample
	Limits       Limits
	Tags         []string
	Notes        string
}

// UploadResult is what UploadData returns on success.
type UploadResult struct {
	RealID       string
	ResponseMeta map[string]string
}

// SubmissionHandle identifies a pending judge submission, opaque to the
// engine and meaningful only to the adapter that issued it.
type SubmissionHandle string

// JudgeResult is one poll of JudgeStatus.
type JudgeResult struct {
	Verdict Verdict
	Logs    string
}

// Adapter is the minimal identity every registered adapter has. Concrete
// capabilities are discovered by type-asserting to the Fetcher/Uploader/
// etc. interfaces below; Capabilities() is the adapter's own declaration,
// checked against those assertions at registration time so a declared
// capability an adapter doesn't actually implement fails fast.
type Adapter interface {
	Name() string
	Capabilities() []Capability
}

// HasCapability reports whether an adapter declares cap.
func HasCapability(a Adapter, cap Capability) bool {
	for _, c := range a.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}

// Fetcher is implemented by adapters declaring CapFetch.
type Fetcher interface {
	FetchProblem(ctx context.Context, userID, pid string) (Statement, error)
}

// RawFetcher is an alternative to Fetcher for adapters whose upstream API
// returns a free-form JSON document rather than something the adapter
// can map onto Statement itself. The Fetch stage projects the result
// through a configured jq expression (see JQProjector) before building
// the Statement, so adding a new raw-JSON source needs no new adapter
// code beyond the expression.
type RawFetcher interface {
	FetchRaw(ctx context.Context, userID, pid string) (json.RawMessage, error)
}

// Uploader is implemented by adapters declaring CapUpload. src supplies
// the generated test data and reference solution without coupling this
// package to the on-disk workspace layout.
type Uploader interface {
	UploadData(ctx context.Context, userID string, src UploadSource) (UploadResult, error)
}

// UploadSource is the read-only view of a workspace an Uploader needs.
type UploadSource interface {
	Statement() (Statement, error)
	Cases() ([]Sample, error)
}

// Submitter is implemented by adapters declaring CapSubmit.
type Submitter interface {
	SubmitSolution(ctx context.Context, userID, realID, code, lang string) (SubmissionHandle, error)
}

// JudgeStatusChecker is implemented by adapters declaring CapJudgeStatus.
type JudgeStatusChecker interface {
	JudgeStatus(ctx context.Context, userID string, handle SubmissionHandle) (JudgeResult, error)
}

// TitleSearcher is implemented by adapters that can resolve a problem's
// real id from its title.
type TitleSearcher interface {
	SearchByTitle(ctx context.Context, userID, title string) (realID string, found bool, err error)
}

// TrainingLister is implemented by adapters declaring CapListTraining.
type TrainingLister interface {
	ListTrainingIDs(ctx context.Context, userID, tagOrRange string) ([]string, error)
}

// SolutionProvider is implemented by adapters declaring
// CapProvideSolution; the second source in the Solve stage's reference-
// solution ordering.
type SolutionProvider interface {
	ProvideSolution(ctx context.Context, userID, pid string) (code string, ok bool, err error)
}

// AdapterConfig is the per-user, per-adapter credential bag: URLs,
// domain, username, cookies, tokens. Stored encrypted at rest behind
// store.CredentialStore and decoded fresh on every stage execution; an
// adapter instance never caches it across calls.
type AdapterConfig struct {
	BaseURL     string            `json:"base_url"`
	Domain      string            `json:"domain,omitempty"`
	Username    string            `json:"username,omitempty"`
	Cookies     string            `json:"cookies,omitempty"`
	Token       string            `json:"token,omitempty"`
	URLTemplate string            `json:"url_template,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// UploadedURL forms the judge-facing URL for a resolved real id: the
// adapter's own {real_id}-substituted template if it declared one,
// otherwise {base_url}/d/{domain}/p/{real_id}, or {base_url}/p/{real_id}
// when Domain is empty. Returns "" if realID is unknown, or if there is
// no template and BaseURL is unknown.
func (c AdapterConfig) UploadedURL(realID string) string {
	if realID == "" {
		return ""
	}
	if c.URLTemplate != "" {
		return strings.ReplaceAll(c.URLTemplate, "{real_id}", realID)
	}
	if c.BaseURL == "" {
		return ""
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if c.Domain != "" {
		return fmt.Sprintf("%s/d/%s/p/%s", base, c.Domain, realID)
	}
	return fmt.Sprintf("%s/p/%s", base, realID)
}
