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

// Package taskservice implements the Task Service: the batch admission
// layer between the transport surface and the Pipeline Runner. It is the
// only writer of task-level aggregate status.
package taskservice

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Inkotake/ojo-agent/internal/gate"
	"github.com/Inkotake/ojo-agent/internal/pipeline"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/refid"
	"github.com/Inkotake/ojo-agent/internal/store"
	"github.com/Inkotake/ojo-agent/internal/workspace"
	"github.com/Inkotake/ojo-agent/pkg/ojoerrors"
)

// ErrForbidden is returned when a caller acts on a task it doesn't own.
var ErrForbidden = &ojoerrors.ValidationError{Field: "owning_user_id", Message: "task does not belong to this user"}

// TaskSpec is the caller-supplied description of a batch admission.
type TaskSpec struct {
	ProblemRefs   []problem.ProblemRef
	EnabledStages []problem.Stage
	UploadAdapter string
	GenProvider   string
	SolveProvider string
}

// Service is the batch admission layer. Every exported method is safe
// for concurrent use.
type Service struct {
	Store     store.Store
	Workspace *workspace.Store
	Runner    *pipeline.Runner
	Gates     *gate.Controller
	Logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // task id -> cancel
	wg      sync.WaitGroup
}

// New builds a Service. All fields on the returned Service are already
// usable; callers needing custom wiring may still set exported fields
// directly before the first CreateTask call.
func New(st store.Store, ws *workspace.Store, runner *pipeline.Runner, gates *gate.Controller) *Service {
	return &Service{Store: st, Workspace: ws, Runner: runner, Gates: gates, cancels: make(map[string]context.CancelFunc)}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// CreateTask normalizes every problem reference in spec, persists the
// Task and its Problems, and admits each Problem to the Pipeline Runner
// under global_tasks ⊓ per_user ⊓ queue, per spec.md §4.7.
func (s *Service) CreateTask(ctx context.Context, userID string, spec TaskSpec) (*problem.Task, error) {
	if len(spec.ProblemRefs) == 0 {
		return nil, &ojoerrors.ValidationError{Field: "problem_refs", Message: "must supply at least one problem reference"}
	}

	task := &problem.Task{
		ID:            uuid.New().String()[:8],
		OwningUserID:  userID,
		ProblemRefs:   spec.ProblemRefs,
		EnabledStages: spec.EnabledStages,
		UploadAdapter: spec.UploadAdapter,
		GenProvider:   spec.GenProvider,
		SolveProvider: spec.SolveProvider,
		Status:        problem.StatusPending,
	}
	task.NormalizeUploadImpliesSolve(false)

	problems := make([]*problem.Problem, 0, len(spec.ProblemRefs))
	for _, ref := range spec.ProblemRefs {
		norm, err := refid.Normalize(ref.Raw, ref.SourceHint)
		if err != nil {
			return nil, &ojoerrors.ValidationError{Field: "problem_refs", Message: err.Error()}
		}
		problems = append(problems, &problem.Problem{
			ID:            uuid.New().String()[:8],
			TaskID:        task.ID,
			OwningUserID:  userID,
			NormalizedID:  norm.String(),
			RawRef:        norm.ShortID,
			SourceAdapter: norm.SourceAdapter,
			Status:        problem.StatusPending,
		})
	}

	if err := s.Store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("taskservice: persisting task: %w", err)
	}
	if err := s.Store.CreateProblems(ctx, problems); err != nil {
		return nil, fmt.Errorf("taskservice: persisting problems: %w", err)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	if err := s.Store.UpdateTaskStatus(ctx, task.ID, problem.StatusRunning); err == nil {
		task.Status = problem.StatusRunning
	}
	for _, p := range problems {
		s.admit(taskCtx, task, p)
	}

	return task, nil
}

// admit spawns one Problem's run under the queue gate and recomputes the
// task's aggregate status once it reaches a terminal state.
func (s *Service) admit(ctx context.Context, task *problem.Task, p *problem.Problem) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		release, err := s.Gates.AcquireOrdered(ctx, gate.Queue)
		if err != nil {
			return
		}
		defer release()

		if runErr := s.Runner.Run(ctx, task, p); runErr != nil {
			s.logger().Warn("problem run failed", "task", task.ID, "problem", p.ID, "err", runErr)
		}
		s.recomputeTaskStatus(context.Background(), task.ID)
	}()
}

// recomputeTaskStatus applies the aggregate rule spec.md §4.7 describes:
// running iff any problem is non-terminal, completed iff all are
// completed, failed iff at least one is terminal-non-completed and none
// are non-terminal, cancelled iff the user cancelled and nothing
// succeeded.
func (s *Service) recomputeTaskStatus(ctx context.Context, taskID string) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return
	}
	problems, err := s.Store.ListProblemsByTask(ctx, taskID)
	if err != nil || len(problems) == 0 {
		return
	}

	anyNonTerminal, anyCompleted, anyCancelled, anyFailed := false, false, false, false
	for _, p := range problems {
		switch {
		case !p.Status.IsTerminal():
			anyNonTerminal = true
		case p.Status == problem.StatusCompleted:
			anyCompleted = true
		case p.Status == problem.StatusCancelled:
			anyCancelled = true
		default:
			anyFailed = true
		}
	}

	next := task.Status
	switch {
	case anyNonTerminal:
		next = problem.StatusRunning
	case !anyFailed && !anyCancelled:
		next = problem.StatusCompleted
	case anyCancelled && !anyCompleted:
		next = problem.StatusCancelled
	default:
		next = problem.StatusFailed
	}

	if next != task.Status {
		_ = s.Store.UpdateTaskStatus(ctx, taskID, next)
	}
	if next.IsTerminal() {
		s.mu.Lock()
		if cancel, ok := s.cancels[taskID]; ok {
			cancel()
			delete(s.cancels, taskID)
		}
		s.mu.Unlock()
	}
}

// GetTask returns a task and its problems, scoped to userID.
func (s *Service) GetTask(ctx context.Context, userID, id string) (*problem.Task, []*problem.Problem, error) {
	task, err := s.Store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if task.OwningUserID != userID {
		return nil, nil, ErrForbidden
	}
	problems, err := s.Store.ListProblemsByTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return task, problems, nil
}

// ListTasks returns every task owned by userID, most recently created first.
func (s *Service) ListTasks(ctx context.Context, userID string) ([]*problem.Task, error) {
	all, err := s.Store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*problem.Task, 0, len(all))
	for _, t := range all {
		if t.OwningUserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Retry resets every non-completed problem in task id to re-enter at
// fromStage and re-admits it. Completed problems are left untouched.
func (s *Service) Retry(ctx context.Context, userID, id string, fromStage problem.Stage) error {
	task, problems, err := s.GetTask(ctx, userID, id)
	if err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	for _, p := range problems {
		if p.Status == problem.StatusCompleted {
			continue
		}
		ws, err := s.Workspace.OpenOrCreate(p.OwningUserID, p.NormalizedID)
		if err != nil {
			return fmt.Errorf("taskservice: opening workspace for retry: %w", err)
		}
		if err := pipeline.ResetForRetry(ws, task, p, fromStage); err != nil {
			return err
		}
		if err := s.Store.UpdateProblem(ctx, p); err != nil {
			return fmt.Errorf("taskservice: persisting reset problem: %w", err)
		}
		s.admit(taskCtx, task, p)
	}
	return s.Store.UpdateTaskStatus(ctx, task.ID, problem.StatusRunning)
}

// Delete cancels any in-flight runs for task id. The Task and Problem
// records themselves are left in the store as the historical record;
// nothing in spec.md's Task Service asks for a hard delete of a
// completed task's audit trail.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	task, err := s.Store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.OwningUserID != userID {
		return ErrForbidden
	}

	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return s.Store.UpdateTaskStatus(ctx, id, problem.StatusCancelled)
}

// DownloadWorkspace zips every problem's workspace directory under task
// id into one archive, each problem's files namespaced by its id.
func (s *Service) DownloadWorkspace(ctx context.Context, userID, id string) ([]byte, error) {
	_, problems, err := s.GetTask(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range problems {
		ws, err := s.Workspace.OpenOrCreate(p.OwningUserID, p.NormalizedID)
		if err != nil {
			continue
		}
		if err := addWorkspaceToZip(zw, p.ID, ws); err != nil {
			zw.Close()
			return nil, fmt.Errorf("taskservice: archiving problem %s: %w", p.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("taskservice: closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addWorkspaceToZip(zw *zip.Writer, prefix string, ws workspace.Workspace) error {
	return filepath.WalkDir(ws.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(ws.Root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.Join(prefix, rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
}

// Wait blocks until every admitted run this Service started has
// returned. Only tests call it.
func (s *Service) Wait() {
	s.wg.Wait()
}
