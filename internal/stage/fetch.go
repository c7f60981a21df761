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

package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/workspace"
	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// RunFetch reads the problem from pc.SourceAdapter and writes
// statement.json, skipping entirely if a statement is already cached.
func RunFetch(ctx context.Context, pc ProblemCtx) (StageResult, error) {
	if pc.Workspace.HasStatement() {
		return StageResult{Skipped: true}, nil
	}

	adapter, err := pc.Adapters.Get(pc.SourceAdapter)
	if err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "fetch", Kind: ojoerrors.KindNotFound, Message: err.Error(), Cause: err}
	}

	var stmt capability.Statement
	switch a := adapter.(type) {
	case capability.Fetcher:
		stmt, err = fetchWithRetry(ctx, a, pc)
	case capability.RawFetcher:
		stmt, err = fetchRawWithRetry(ctx, a, pc)
	default:
		return StageResult{}, &ojoerrors.StageError{
			Stage: "fetch", Kind: ojoerrors.KindValidation,
			Message: fmt.Sprintf("adapter %q does not implement fetch", pc.SourceAdapter),
		}
	}
	if err != nil {
		return StageResult{}, err
	}

	if err := pc.Workspace.WriteStatement(toWorkspaceStatement(stmt)); err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "fetch", Kind: ojoerrors.KindPermanent, Message: "writing statement", Cause: err}
	}

	pc.emit(problem.EventStageCompleted, "fetched %q from %s", stmt.Title, pc.SourceAdapter)
	return StageResult{}, nil
}

// fetchWithRetry retries only transient-network failures, up to 3
// retries after the first call (4 calls in all) with 1s/2s/4s ± jitter
// backoff; every other classified
// failure (auth, not-found, parse) fails the stage on first occurrence.
func fetchWithRetry(ctx context.Context, fetcher capability.Fetcher, pc ProblemCtx) (capability.Statement, error) {
	for attempt := 0; ; attempt++ {
		stmt, err := fetcher.FetchProblem(ctx, pc.UserID, pc.RawRef)
		if err == nil {
			return stmt, nil
		}

		kind := classifyFetchError(err)
		if kind != ojoerrors.KindTransientNetwork || attempt >= len(fetchBackoffs) {
			return capability.Statement{}, &ojoerrors.StageError{Stage: "fetch", Kind: kind, Message: err.Error(), Cause: err}
		}

		pc.logger().Warn("fetch retrying", "attempt", attempt+1, "pid", pc.RawRef, "err", err)
		if sleepErr := sleepOrCancel(ctx, withJitter(fetchBackoffs[attempt])); sleepErr != nil {
			return capability.Statement{}, &ojoerrors.StageError{Stage: "fetch", Kind: ojoerrors.KindCancelled, Message: "cancelled while backing off", Cause: sleepErr}
		}
	}
}

// statementProjector is the shared jq compiler cache for raw-fetch
// adapters; one process-wide instance since compiled programs carry no
// per-problem state.
var statementProjector = capability.NewJQProjector(0)

// fetchRawWithRetry is fetchWithRetry's counterpart for adapters that
// return a raw JSON payload instead of a Statement directly: the same
// retry/backoff policy applies, with a jq projection step before the
// payload becomes a Statement.
func fetchRawWithRetry(ctx context.Context, fetcher capability.RawFetcher, pc ProblemCtx) (capability.Statement, error) {
	for attempt := 0; ; attempt++ {
		raw, err := fetcher.FetchRaw(ctx, pc.UserID, pc.RawRef)
		if err == nil {
			stmt, projErr := statementProjector.Project(ctx, pc.Config.StatementProjectExpr, raw)
			if projErr != nil {
				return capability.Statement{}, &ojoerrors.StageError{Stage: "fetch", Kind: ojoerrors.KindParse, Message: projErr.Error(), Cause: projErr}
			}
			return stmt, nil
		}

		kind := classifyFetchError(err)
		if kind != ojoerrors.KindTransientNetwork || attempt >= len(fetchBackoffs) {
			return capability.Statement{}, &ojoerrors.StageError{Stage: "fetch", Kind: kind, Message: err.Error(), Cause: err}
		}

		pc.logger().Warn("fetch retrying", "attempt", attempt+1, "pid", pc.RawRef, "err", err)
		if sleepErr := sleepOrCancel(ctx, withJitter(fetchBackoffs[attempt])); sleepErr != nil {
			return capability.Statement{}, &ojoerrors.StageError{Stage: "fetch", Kind: ojoerrors.KindCancelled, Message: "cancelled while backing off", Cause: sleepErr}
		}
	}
}

// classifyFetchError maps a fetch failure to a retry-routing ErrorKind.
// Adapters surface ojoerrors types directly where possible; anything else
// is treated as a permanent failure rather than guessed retryable.
func classifyFetchError(err error) ojoerrors.ErrorKind {
	var notFound *ojoerrors.NotFoundError
	if errors.As(err, &notFound) {
		return ojoerrors.KindNotFound
	}
	var validation *ojoerrors.ValidationError
	if errors.As(err, &validation) {
		return ojoerrors.KindParse
	}
	var provider *ojoerrors.ProviderError
	if errors.As(err, &provider) {
		if provider.StatusCode == 401 || provider.StatusCode == 403 {
			return ojoerrors.KindAuth
		}
		if provider.StatusCode >= 500 {
			return ojoerrors.KindTransientNetwork
		}
	}
	var timeout *ojoerrors.TimeoutError
	if errors.As(err, &timeout) {
		return ojoerrors.KindTransientNetwork
	}
	if ojoerrors.IsRetryable(err) {
		return ojoerrors.KindTransientNetwork
	}
	return ojoerrors.KindPermanent
}

func toWorkspaceStatement(s capability.Statement) workspace.Statement {
	samples := make([]workspace.Sample, len(s.Samples))
	for i, sm := range s.Samples {
		samples[i] = workspace.Sample{In: sm.In, Out: sm.Out}
	}
	return workspace.Statement{
		Title:        s.Title,
		Body:         s.Body,
		InputFormat:  s.InputFormat,
		OutputFormat: s.OutputFormat,
		Samples:      samples,
		Limits:       workspace.Limits{TimeMS: s.Limits.TimeMS, MemoryMB: s.Limits.MemoryMB},
		Tags:         s.Tags,
		Notes:        s.Notes,
	}
}
