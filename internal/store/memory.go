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
	"sort"
	"sync"
	"time"

	"github.com/Inkotake/ojo-agent/internal/problem"
)

// MemoryStore is a map-backed Store with no durability across restarts.
// Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]*problem.Task
	problems map[string]*problem.Problem
	creds    *credentialTable
}

// NewMemory builds an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]*problem.Task),
		problems: make(map[string]*problem.Problem),
	}
}

func (m *MemoryStore) CreateTask(ctx context.Context, t *problem.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (*problem.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context) ([]*problem.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*problem.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status problem.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateProblems(ctx context.Context, problems []*problem.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, p := range problems {
		p.CreatedAt, p.UpdatedAt = now, now
		cp := *p
		m.problems[p.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) GetProblem(ctx context.Context, id string) (*problem.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.problems[id]
	if !ok {
		return nil, ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProblemsByTask(ctx context.Context, taskID string) ([]*problem.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*problem.Problem, 0)
	for _, p := range m.problems {
		if p.TaskID == taskID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListResumable(ctx context.Context) ([]*problem.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*problem.Problem, 0)
	for _, p := range m.problems {
		if !p.Status.IsTerminal() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateProblem(ctx context.Context, p *problem.Problem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.problems[p.ID]; !ok {
		return ErrProblemNotFound
	}
	cp := *p
	cp.UpdatedAt = time.Now()
	m.problems[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Close() error { return nil }
