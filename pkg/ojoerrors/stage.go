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

package ojoerrors

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a Problem's context was cancelled at a
// stage suspension point (a gate acquisition or an I/O wait).
var ErrCancelled = errors.New("ojoerrors: problem cancelled")

// ErrorKind classifies a stage failure for retry/terminal routing by the
// Pipeline Runner.
type ErrorKind string

const (
	// KindTransientNetwork is a retryable network-level failure.
	KindTransientNetwork ErrorKind = "transient_network"

	// KindRateLimited is a retryable adapter/provider rate limit.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTimeout is a retryable operation timeout.
	KindTimeout ErrorKind = "timeout"

	// KindAdapterServerError is a retryable 5xx from a source/judge adapter.
	KindAdapterServerError ErrorKind = "adapter_server_error"

	// KindValidation is a terminal input/contract violation.
	KindValidation ErrorKind = "validation"

	// KindNotFound is a terminal missing-resource failure.
	KindNotFound ErrorKind = "not_found"

	// KindAuth is a terminal authentication/authorization failure against
	// an adapter or provider.
	KindAuth ErrorKind = "auth"

	// KindParse is a terminal failure to parse an adapter's response.
	KindParse ErrorKind = "parse"

	// KindBadData is a terminal rejection of malformed input data.
	KindBadData ErrorKind = "bad_data"

	// KindForbidden is a terminal authorization denial.
	KindForbidden ErrorKind = "forbidden"

	// KindSemantic is a terminal domain-level failure with a stable Code
	// (gen_insufficient, upload_no_id, solve_wrong_answer, solve_runtime,
	// solve_compile, duplicate, stage_exhausted).
	KindSemantic ErrorKind = "semantic"

	// KindCancelled marks a stage aborted by cancellation.
	KindCancelled ErrorKind = "cancelled"

	// KindPermanent is any other terminal failure (the "internal" catch-all).
	KindPermanent ErrorKind = "permanent"
)

// Stable semantic terminal codes set on StageError.Code when Kind is
// KindSemantic, per spec.md §7.
const (
	CodeDuplicate      = "duplicate"
	CodeGenInsufficient = "gen_insufficient"
	CodeUploadNoID     = "upload_no_id"
	CodeSolveWrongAnswer = "solve_wrong_answer"
	CodeSolveRuntime   = "solve_runtime"
	CodeSolveCompile   = "solve_compile"
	CodeStageExhausted = "stage_exhausted"
)

// retryableKinds lists the ErrorKind values that the Pipeline Runner
// treats as automatically retryable, per the concurrency model's retry
// policy (network, rate-limit, 5xx, timeout).
var retryableKinds = map[ErrorKind]bool{
	KindTransientNetwork:   true,
	KindRateLimited:        true,
	KindTimeout:            true,
	KindAdapterServerError: true,
}

// RetryableError is implemented by any error that can classify itself as
// retryable or terminal, independent of its concrete type.
type RetryableError interface {
	error
	IsRetryable() bool
}

// StageError is returned by a stage executor (fetch/generate/upload/solve)
// to report a classified failure. The Pipeline Runner uses Kind (via
// errors.As) to decide whether to schedule a retry or transition the
// Problem to failed_<stage>.
type StageError struct {
	// Stage is the stage that failed: "fetch", "generate", "upload", "solve".
	Stage string

	// Kind classifies the failure for retry routing.
	Kind ErrorKind

	// Code is a stable semantic reason string, set when Kind is
	// KindSemantic (e.g. "gen_insufficient", "solve_wrong_answer").
	Code string

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stage %s failed (%s/%s): %s", e.Stage, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("stage %s failed (%s): %s", e.Stage, e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether this failure's Kind is in the automatic
// retry set.
func (e *StageError) IsRetryable() bool {
	return retryableKinds[e.Kind]
}

var _ RetryableError = (*StageError)(nil)

// IsRetryable reports whether err should be automatically retried,
// following the same classification StageError uses. Non-StageError
// values are treated as non-retryable unless they implement
// RetryableError themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.IsRetryable()
	}
	return false
}
