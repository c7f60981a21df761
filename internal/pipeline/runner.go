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

// Package pipeline implements the Pipeline Runner: the per-Problem state
// machine that drives the four Stage Executors under the Concurrency
// Controller's gates, applies retry/skip/abort policy, and publishes
// progress events. It holds no stage-specific logic itself; that lives
// entirely in internal/stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/config"
	"github.com/Inkotake/ojo-agent/internal/eventbus"
	"github.com/Inkotake/ojo-agent/internal/gate"
	"github.com/Inkotake/ojo-agent/internal/llmpool"
	"github.com/Inkotake/ojo-agent/internal/metrics"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/stage"
	"github.com/Inkotake/ojo-agent/internal/store"
	"github.com/Inkotake/ojo-agent/internal/tracing"
	"github.com/Inkotake/ojo-agent/internal/workspace"
	"github.com/Inkotake/ojo-agent/pkg/observability"
	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

type stageExecutor func(ctx context.Context, pc stage.ProblemCtx) (stage.StageResult, error)

var executors = map[problem.Stage]stageExecutor{
	problem.StageFetch:    stage.RunFetch,
	problem.StageGenerate: stage.RunGenerate,
	problem.StageUpload:   stage.RunUpload,
	problem.StageSolve:    stage.RunSolve,
}

var runningStatus = map[problem.Stage]problem.Status{
	problem.StageFetch:    problem.StatusFetching,
	problem.StageGenerate: problem.StatusGenerating,
	problem.StageUpload:   problem.StatusUploading,
	problem.StageSolve:    problem.StatusSolving,
}

// Runner drives one Problem through pending -> fetching -> generating ->
// uploading -> solving -> completed, with failed_<stage> and cancelled
// as the terminal off-ramps.
type Runner struct {
	Store     store.Store
	Workspace *workspace.Store
	Adapters  *capability.Registry
	LLMPool   *llmpool.Pool
	Gates     *gate.Controller
	Events    *eventbus.Topic
	Config    config.Config
	Logger    *slog.Logger
	Tracer    observability.Tracer

	// Credentials resolves per-user, per-adapter AdapterConfig blobs for
	// the Upload stage's URL formation. Nil is valid: stores that don't
	// back CredentialStore (or callers that don't wire one) leave URL
	// formation to whatever the adapter response itself supplies.
	Credentials store.CredentialStore
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) tracer() observability.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}
	return tracing.NewNoopProvider().Tracer("pipeline")
}

// Run drives p to a terminal status under task's enabled-stage set and
// adapter/provider selection. The terminal status and last error, if
// any, are persisted to r.Store as the durable record of the outcome;
// the returned error mirrors p.LastError for callers that don't want to
// re-read the Problem.
func (r *Runner) Run(ctx context.Context, task *problem.Task, p *problem.Problem) error {
	ctx = tracing.ToContext(ctx, tracing.NewCorrelationID())

	release, err := r.Gates.AcquireOrdered(ctx, gate.GlobalTasks, gate.PerUserGate(p.OwningUserID))
	if err != nil {
		return r.cancel(ctx, task, p)
	}
	defer release()

	ws, err := r.Workspace.OpenOrCreate(p.OwningUserID, p.NormalizedID)
	if err != nil {
		return r.fail(ctx, task, p, problem.StageFetch, &ojoerrors.StageError{Stage: "fetch", Kind: ojoerrors.KindPermanent, Message: "opening workspace", Cause: err})
	}

	realID := p.RealID
	if rcpt, ok := ws.GetUploadReceipt(task.UploadAdapter); ok {
		realID = rcpt.RealID
		p.RealID, p.UploadedURL = rcpt.RealID, rcpt.URL
	}

	for _, st := range problem.Stages {
		if ctx.Err() != nil {
			return r.cancel(ctx, task, p)
		}
		if !task.EnablesStage(st) || skipStage(st, ws, task.UploadAdapter) {
			continue
		}

		p.CurrentStage = st
		p.Status = runningStatus[st]
		r.persist(ctx, p)
		r.publish(task, p, problem.EventStageStarted, fmt.Sprintf("%s started", st))

		pc := stage.ProblemCtx{
			UserID: p.OwningUserID, RawRef: p.RawRef, Workspace: ws,
			Adapters: r.Adapters, LLMPool: r.LLMPool, Config: r.Config.Stage,
			Logger: r.logger(), Credentials: r.Credentials,
			SourceAdapter: p.SourceAdapter, UploadAdapter: task.UploadAdapter,
			RealID: realID,
			TaskID: task.ID, ProblemID: p.NormalizedID, Stage: string(st),
			Emit: func(kind problem.ProgressEventKind, message string) { r.publish(task, p, kind, message) },
		}

		result, stageErr := r.runStageWithRetry(ctx, task.ID, st, pc, p)
		if stageErr != nil {
			return r.fail(ctx, task, p, st, stageErr)
		}
		if result.RealID != "" {
			realID = result.RealID
			p.RealID = result.RealID
			p.UploadedURL = result.URL
			r.persist(ctx, p)
		}
	}

	p.Status = problem.StatusCompleted
	p.CurrentStage = ""
	p.LastError = ""
	p.LastErrorKind = ""
	r.persist(ctx, p)
	r.publish(task, p, problem.EventProblemDone, "completed")
	metrics.RecordProblemTerminal(string(p.Status))
	return nil
}

// runStageWithRetry acquires the stage's gate (if it has one: fetch,
// upload and solve are gated; generate is bounded only by its own
// subprocess timeouts) and retries the executor call up to RetryCap
// times, backing off with jitter between attempts, but only for errors
// the stage classifies as retryable. Every other failure surfaces on
// first occurrence, per spec.md §4.6.1.
func (r *Runner) runStageWithRetry(ctx context.Context, taskID string, st problem.Stage, pc stage.ProblemCtx, p *problem.Problem) (stage.StageResult, error) {
	exec := executors[st]
	tracer := r.tracer()

	if gateName, ok := stageGate(st); ok {
		release, err := r.Gates.AcquireOrdered(ctx, gateName)
		if err != nil {
			return stage.StageResult{}, &ojoerrors.StageError{Stage: string(st), Kind: ojoerrors.KindCancelled, Message: "cancelled acquiring stage gate", Cause: err}
		}
		defer release()
	}

	attempts := r.Config.Stage.RetryCap
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		p.Attempt = attempt + 1
		start := time.Now()

		spanCtx, span := tracer.Start(ctx, "stage."+string(st),
			observability.WithAttributes(tracing.StageSpanAttributes(taskID, p.ID, string(st), p.Attempt)))
		result, err := exec(spanCtx, pc)

		if err == nil {
			span.SetStatus(observability.StatusCodeOK, "")
			span.End()
			metrics.ObserveStage(string(st), "success", time.Since(start).Seconds())
			return result, nil
		}
		lastErr = err
		if !ojoerrors.IsRetryable(err) || attempt == attempts-1 {
			span.SetAttributes(map[string]any{"ojo.status": "error"})
			span.RecordError(err)
			span.End()
			metrics.ObserveStage(string(st), "failed", time.Since(start).Seconds())
			return stage.StageResult{}, err
		}

		span.SetAttributes(map[string]any{"ojo.status": "error"})
		span.RecordError(err)
		span.End()
		metrics.ObserveStage(string(st), "retried", time.Since(start).Seconds())
		metrics.RecordStageRetry(string(st))
		r.logger().Warn("stage retrying", "stage", st, "attempt", attempt+1, "problem", p.ID, "err", err)
		delay := backoffFor(r.Config.Stage.RetryBaseDelay, r.Config.Stage.RetryMaxDelay, attempt)
		if sleepErr := sleepOrCancel(ctx, delay); sleepErr != nil {
			return stage.StageResult{}, &ojoerrors.StageError{Stage: string(st), Kind: ojoerrors.KindCancelled, Message: "cancelled during stage retry backoff", Cause: sleepErr}
		}
	}
	return stage.StageResult{}, lastErr
}

// stageGate maps a stage to its Concurrency Controller gate name.
// Generate has none: it is bounded by GenSubprocessTimeout per case, not
// by a concurrency gate.
func stageGate(st problem.Stage) (string, bool) {
	switch st {
	case problem.StageFetch:
		return gate.StageFetch, true
	case problem.StageUpload:
		return gate.StageUpload, true
	case problem.StageSolve:
		return gate.StageSolve, true
	default:
		return "", false
	}
}

// skipStage evaluates one stage's idempotency oracle against ws, the
// same predicate the effective-stage-set computation in spec.md §4.6
// describes. Solve has no workspace-backed oracle: a judge verdict isn't
// cached, so it is never skipped on that basis alone (only by the task's
// enabled-stage set, checked by the caller).
func skipStage(st problem.Stage, ws workspace.Workspace, uploadAdapter string) bool {
	switch st {
	case problem.StageFetch:
		return ws.HasStatement()
	case problem.StageGenerate:
		return ws.HasGeneratedData()
	case problem.StageUpload:
		_, ok := ws.GetUploadReceipt(uploadAdapter)
		return ok
	default:
		return false
	}
}

func (r *Runner) persist(ctx context.Context, p *problem.Problem) {
	p.UpdatedAt = time.Now()
	if r.Store == nil {
		return
	}
	if err := r.Store.UpdateProblem(ctx, p); err != nil {
		r.logger().Warn("persisting problem failed", "problem", p.ID, "err", err)
	}
}

func (r *Runner) publish(task *problem.Task, p *problem.Problem, kind problem.ProgressEventKind, message string) {
	if r.Events == nil {
		return
	}
	taskID := ""
	if task != nil {
		taskID = task.ID
	}
	r.Events.Publish(problem.ProgressEvent{
		Kind: kind, TaskID: taskID, ProblemID: p.ID, Stage: p.CurrentStage, Message: message, At: time.Now(),
	})
}

func (r *Runner) fail(ctx context.Context, task *problem.Task, p *problem.Problem, st problem.Stage, err error) error {
	p.Status = problem.FailedStageStatus(st)
	p.CurrentStage = st
	p.LastError = err.Error()
	p.LastErrorKind = classifyKind(err)
	r.persist(ctx, p)
	r.publish(task, p, problem.EventStageFailed, err.Error())
	r.publish(task, p, problem.EventProblemDone, string(p.Status))
	metrics.RecordProblemTerminal(string(p.Status))
	return err
}

func (r *Runner) cancel(ctx context.Context, task *problem.Task, p *problem.Problem) error {
	p.Status = problem.StatusCancelled
	r.persist(context.WithoutCancel(ctx), p)
	r.publish(task, p, problem.EventProblemDone, "cancelled")
	metrics.RecordProblemTerminal(string(p.Status))
	return ojoerrors.ErrCancelled
}

func classifyKind(err error) string {
	var se *ojoerrors.StageError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return string(ojoerrors.KindPermanent)
}
