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
	"fmt"
	"strings"
	"time"

	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/llmpool"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// RunSolve submits a reference solution against the uploaded problem and
// polls until a terminal verdict. Pre: pc.RealID is set.
func RunSolve(ctx context.Context, pc ProblemCtx) (StageResult, error) {
	if pc.RealID == "" {
		return StageResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindValidation, Message: "no real_id: upload must complete first"}
	}

	adapter, err := pc.Adapters.Get(pc.UploadAdapter)
	if err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindNotFound, Message: err.Error(), Cause: err}
	}
	submitter, ok := adapter.(capability.Submitter)
	if !ok {
		return StageResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindValidation, Message: fmt.Sprintf("adapter %q cannot submit", pc.UploadAdapter)}
	}
	checker, ok := adapter.(capability.JudgeStatusChecker)
	if !ok {
		return StageResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindValidation, Message: fmt.Sprintf("adapter %q cannot report judge status", pc.UploadAdapter)}
	}

	ext, code, err := obtainSolution(ctx, pc, adapter)
	if err != nil {
		return StageResult{}, err
	}
	lang := langForExt(ext)

	handle, err := submitter.SubmitSolution(ctx, pc.UserID, pc.RealID, code, lang)
	if err != nil {
		return StageResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindTransientNetwork, Message: "submit_solution", Cause: err}
	}

	verdict, err := pollJudgeStatus(ctx, checker, pc, handle)
	if err != nil {
		return StageResult{}, err
	}

	if verdict.Verdict == capability.VerdictAccepted {
		pc.emit(problem.EventStageCompleted, "accepted")
		return StageResult{RealID: pc.RealID}, nil
	}
	return StageResult{}, solveVerdictError(verdict)
}

// obtainSolution implements the three-source ordering spec.md §4.5.4
// requires: a cached workspace solution, the adapter's own solution
// provider, then the LLM solution endpoint, short-circuiting on first hit.
func obtainSolution(ctx context.Context, pc ProblemCtx, adapter capability.Adapter) (ext, code string, err error) {
	if ext, code, ok := pc.Workspace.ReadSolution(); ok {
		return ext, code, nil
	}

	if provider, ok := adapter.(capability.SolutionProvider); ok {
		if code, ok, err := provider.ProvideSolution(ctx, pc.UserID, pc.RawRef); err == nil && ok {
			if putErr := pc.Workspace.PutSolution("cpp", code); putErr != nil {
				pc.logger().Warn("caching adapter-provided solution failed", "err", putErr)
			}
			return "cpp", code, nil
		}
	}

	stmt, readErr := pc.Workspace.ReadStatement()
	if readErr != nil {
		return "", "", &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindPermanent, Message: "reading statement for solution prompt", Cause: readErr}
	}
	prompt := fmt.Sprintf("Write a complete, correct C++17 solution for this problem. Output only the code.\n\nTitle: %s\n\n%s", stmt.Title, stmt.Body)
	result, callErr := pc.LLMPool.Call(ctx, llmpool.EndpointSolution, prompt, pc.callOpts())
	if callErr != nil {
		return "", "", &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindPermanent, Message: "solution endpoint", Cause: callErr}
	}
	code = extractCodeBlock(result.Text)
	if putErr := pc.Workspace.PutSolution("cpp", code); putErr != nil {
		pc.logger().Warn("caching LLM solution failed", "err", putErr)
	}
	return "cpp", code, nil
}

func langForExt(ext string) string {
	switch ext {
	case "py":
		return "python3"
	case "cc":
		return "cpp"
	default:
		return ext
	}
}

// pollJudgeStatus polls with a fixed interval until a terminal verdict or
// the overall stage timeout elapses.
func pollJudgeStatus(ctx context.Context, checker capability.JudgeStatusChecker, pc ProblemCtx, handle capability.SubmissionHandle) (capability.JudgeResult, error) {
	deadline := time.Now().Add(pc.Config.SolveStageTimeout)
	interval := pc.Config.SolvePollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		result, err := checker.JudgeStatus(ctx, pc.UserID, handle)
		if err != nil {
			return capability.JudgeResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindTransientNetwork, Message: "judge_status", Cause: err}
		}
		if result.Verdict.IsTerminal() {
			return result, nil
		}
		if time.Now().After(deadline) {
			return capability.JudgeResult{}, &ojoerrors.StageError{
				Stage: "solve", Kind: ojoerrors.KindSemantic, Code: ojoerrors.CodeStageExhausted,
				Message: fmt.Sprintf("judge status still pending after %v", pc.Config.SolveStageTimeout),
			}
		}
		if err := sleepOrCancel(ctx, interval); err != nil {
			return capability.JudgeResult{}, &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindCancelled, Message: "cancelled while polling", Cause: err}
		}
	}
}

func solveVerdictError(r capability.JudgeResult) error {
	var code string
	switch r.Verdict {
	case capability.VerdictWrongAnswer:
		code = ojoerrors.CodeSolveWrongAnswer
	case capability.VerdictRuntimeError, capability.VerdictTimeLimit, capability.VerdictMemoryLimit:
		code = ojoerrors.CodeSolveRuntime
	case capability.VerdictCompileError:
		code = ojoerrors.CodeSolveCompile
	default:
		code = ojoerrors.CodeSolveWrongAnswer
	}
	msg := fmt.Sprintf("verdict: %s", r.Verdict)
	if strings.TrimSpace(r.Logs) != "" {
		msg += "\n" + r.Logs
	}
	return &ojoerrors.StageError{Stage: "solve", Kind: ojoerrors.KindSemantic, Code: code, Message: msg}
}
