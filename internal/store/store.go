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

// Package store implements the Persistence Adapter: durable storage for
// Tasks and Problems so a crashed engine can resume in-flight work. Two
// backends are provided: an in-memory store for tests and single-shot
// CLI runs, and a SQLite store for anything that must survive a restart.
package store

import (
	"context"
	"errors"

	"github.com/Inkotake/ojo-agent/internal/problem"
)

// ErrTaskNotFound is returned when a task id has no matching record.
var ErrTaskNotFound = errors.New("store: task not found")

// ErrProblemNotFound is returned when a problem id has no matching record.
var ErrProblemNotFound = errors.New("store: problem not found")

// Store is the persistence boundary the Task Service and Pipeline Runner
// use to survive restarts. Implementations must make UpdateProblem safe
// to call concurrently for distinct problem ids.
type Store interface {
	// CreateTask persists a new task record.
	CreateTask(ctx context.Context, t *problem.Task) error

	// GetTask retrieves a task by id.
	GetTask(ctx context.Context, id string) (*problem.Task, error)

	// ListTasks returns every task, most recently created first.
	ListTasks(ctx context.Context) ([]*problem.Task, error)

	// UpdateTaskStatus updates a task's status and updated_at.
	UpdateTaskStatus(ctx context.Context, id string, status problem.Status) error

	// CreateProblems persists the initial set of problems for a task in
	// one batch.
	CreateProblems(ctx context.Context, problems []*problem.Problem) error

	// GetProblem retrieves a problem by id.
	GetProblem(ctx context.Context, id string) (*problem.Problem, error)

	// ListProblemsByTask returns every problem belonging to a task, in
	// the order they were created.
	ListProblemsByTask(ctx context.Context, taskID string) ([]*problem.Problem, error)

	// ListResumable returns every problem not in a terminal status,
	// across every task, for use at startup to resume interrupted work.
	ListResumable(ctx context.Context) ([]*problem.Problem, error)

	// UpdateProblem persists a problem's mutable fields: status,
	// current_stage, attempt, last_error, last_error_kind, owner_worker,
	// real_id, uploaded_url.
	UpdateProblem(ctx context.Context, p *problem.Problem) error

	// Close releases any resources held by the store.
	Close() error
}
