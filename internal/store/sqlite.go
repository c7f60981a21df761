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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/store/encryption"
	"github.com/Inkotake/ojo-agent/pkg/security/audit"
)

// SQLiteStore implements Store on top of a single SQLite file, in WAL mode
// for concurrent stage workers updating distinct problems.
type SQLiteStore struct {
	db        *sql.DB
	encryptor encryption.Encryptor
	audit     *audit.Logger
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file, e.g.
	// ~/.local/share/ojo-agent/ojo-agent.db
	Path string

	// Encryptor seals adapter credentials before they reach adapter_credentials.
	// Required only by callers that use PutCredential/GetCredential.
	Encryptor encryption.Encryptor

	// Audit logs every PutCredential/GetCredential call as a security
	// event. Nil disables audit logging.
	Audit *audit.Logger
}

// NewSQLite opens (creating if necessary) a SQLite-backed Store and runs
// its migrations.
func NewSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}

	connStr := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}

	s := &SQLiteStore{db: db, encryptor: cfg.Encryptor, audit: cfg.Audit}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owning_user_id TEXT NOT NULL,
			problem_refs_json TEXT NOT NULL,
			enabled_stages_json TEXT NOT NULL,
			upload_adapter TEXT,
			gen_provider TEXT,
			solve_provider TEXT,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS problems (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			owning_user_id TEXT NOT NULL,
			normalized_id TEXT NOT NULL,
			raw_ref TEXT NOT NULL,
			source_adapter TEXT NOT NULL,
			status TEXT NOT NULL,
			current_stage TEXT,
			attempt INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_error_kind TEXT,
			owner_worker TEXT,
			real_id TEXT,
			uploaded_url TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_task ON problems(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_problems_status ON problems(status)`,
		`CREATE TABLE IF NOT EXISTS adapter_credentials (
			adapter_name TEXT NOT NULL,
			owning_user_id TEXT NOT NULL,
			encrypted_blob BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (adapter_name, owning_user_id)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *problem.Task) error {
	refsJSON, err := json.Marshal(t.ProblemRefs)
	if err != nil {
		return fmt.Errorf("store: marshal problem_refs: %w", err)
	}
	stagesJSON, err := json.Marshal(t.EnabledStages)
	if err != nil {
		return fmt.Errorf("store: marshal enabled_stages: %w", err)
	}

	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, owning_user_id, problem_refs_json, enabled_stages_json, upload_adapter,
		 gen_provider, solve_provider, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwningUserID, string(refsJSON), string(stagesJSON), t.UploadAdapter,
		t.GenProvider, t.SolveProvider, string(t.Status),
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("store: task %q already exists", t.ID)
		}
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*problem.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, owning_user_id, problem_refs_json,
		enabled_stages_json, upload_adapter, gen_provider, solve_provider, status,
		created_at, updated_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*problem.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owning_user_id, problem_refs_json,
		enabled_stages_json, upload_adapter, gen_provider, solve_provider, status,
		created_at, updated_at FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*problem.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status problem.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("store: update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateProblems(ctx context.Context, problems []*problem.Problem) error {
	if len(problems) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, p := range problems {
		p.CreatedAt, p.UpdatedAt = now, now
		_, err := tx.ExecContext(ctx, `INSERT INTO problems
			(id, task_id, owning_user_id, normalized_id, raw_ref, source_adapter,
			 status, current_stage, attempt, last_error, last_error_kind, owner_worker,
			 real_id, uploaded_url, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.TaskID, p.OwningUserID, p.NormalizedID, p.RawRef, p.SourceAdapter,
			string(p.Status), string(p.CurrentStage), p.Attempt, p.LastError, p.LastErrorKind,
			p.OwnerWorker, p.RealID, p.UploadedURL, p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("store: insert problem %q: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetProblem(ctx context.Context, id string) (*problem.Problem, error) {
	row := s.db.QueryRowContext(ctx, problemSelect+` WHERE id = ?`, id)
	p, err := scanProblem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProblemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get problem: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProblemsByTask(ctx context.Context, taskID string) ([]*problem.Problem, error) {
	rows, err := s.db.QueryContext(ctx, problemSelect+` WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("store: list problems: %w", err)
	}
	defer rows.Close()
	return scanProblems(rows)
}

func (s *SQLiteStore) ListResumable(ctx context.Context) ([]*problem.Problem, error) {
	rows, err := s.db.QueryContext(ctx, problemSelect+
		` WHERE status NOT IN (?, ?) AND status NOT LIKE 'failed_%'`,
		string(problem.StatusCompleted), string(problem.StatusCancelled))
	if err != nil {
		return nil, fmt.Errorf("store: list resumable: %w", err)
	}
	defer rows.Close()
	return scanProblems(rows)
}

func (s *SQLiteStore) UpdateProblem(ctx context.Context, p *problem.Problem) error {
	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE problems SET status = ?, current_stage = ?,
		attempt = ?, last_error = ?, last_error_kind = ?, owner_worker = ?, real_id = ?,
		uploaded_url = ?, updated_at = ?
		WHERE id = ?`,
		string(p.Status), string(p.CurrentStage), p.Attempt, p.LastError, p.LastErrorKind,
		p.OwnerWorker, p.RealID, p.UploadedURL, p.UpdatedAt.Format(time.RFC3339Nano), p.ID)
	if err != nil {
		return fmt.Errorf("store: update problem: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProblemNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const problemSelect = `SELECT id, task_id, owning_user_id, normalized_id, raw_ref,
	source_adapter, status, current_stage, attempt, last_error, last_error_kind,
	owner_worker, real_id, uploaded_url, created_at, updated_at FROM problems`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*problem.Task, error) {
	var t problem.Task
	var refsJSON, stagesJSON, createdAt, updatedAt string
	var uploadAdapter, genProvider, solveProvider sql.NullString

	if err := row.Scan(&t.ID, &t.OwningUserID, &refsJSON, &stagesJSON, &uploadAdapter,
		&genProvider, &solveProvider, &t.Status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(refsJSON), &t.ProblemRefs); err != nil {
		return nil, fmt.Errorf("unmarshal problem_refs: %w", err)
	}
	if err := json.Unmarshal([]byte(stagesJSON), &t.EnabledStages); err != nil {
		return nil, fmt.Errorf("unmarshal enabled_stages: %w", err)
	}
	t.UploadAdapter = uploadAdapter.String
	t.GenProvider = genProvider.String
	t.SolveProvider = solveProvider.String
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &t, nil
}

func scanProblem(row scanner) (*problem.Problem, error) {
	var p problem.Problem
	var currentStage, lastError, lastErrorKind, ownerWorker, realID, uploadedURL sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&p.ID, &p.TaskID, &p.OwningUserID, &p.NormalizedID, &p.RawRef,
		&p.SourceAdapter, &p.Status, &currentStage, &p.Attempt, &lastError, &lastErrorKind,
		&ownerWorker, &realID, &uploadedURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CurrentStage = problem.Stage(currentStage.String)
	p.LastError = lastError.String
	p.LastErrorKind = lastErrorKind.String
	p.OwnerWorker = ownerWorker.String
	p.RealID = realID.String
	p.UploadedURL = uploadedURL.String
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

func scanProblems(rows *sql.Rows) ([]*problem.Problem, error) {
	var out []*problem.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan problem: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
