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

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/Inkotake/ojo-agent/internal/capability"
	"github.com/Inkotake/ojo-agent/internal/config"
	"github.com/Inkotake/ojo-agent/internal/eventbus"
	"github.com/Inkotake/ojo-agent/internal/gate"
	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/store"
	"github.com/Inkotake/ojo-agent/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
	stmt capability.Statement
}

func (a *stubAdapter) Name() string                         { return a.name }
func (a *stubAdapter) Capabilities() []capability.Capability { return []capability.Capability{capability.CapFetch} }
func (a *stubAdapter) FetchProblem(ctx context.Context, userID, pid string) (capability.Statement, error) {
	return a.stmt, nil
}

func newTestRunner(t *testing.T) (*Runner, *store.MemoryStore) {
	t.Helper()
	registry := capability.NewRegistry()
	require.NoError(t, registry.Register(&stubAdapter{name: "codeforces", stmt: capability.Statement{Title: "A. Sum"}}))

	wsStore, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)

	memStore := store.NewMemory()
	cfg := config.Default()
	cfg.Stage.RetryCap = 1

	return &Runner{
		Store:     memStore,
		Workspace: wsStore,
		Adapters:  registry,
		Gates:     gate.New(map[string]int{gate.GlobalTasks: 10, gate.StageFetch: 10, gate.StageUpload: 10, gate.StageSolve: 10}),
		Events:    eventbus.New(0),
		Config:    *cfg,
	}, memStore
}

func TestRunner_FetchOnlyTaskCompletes(t *testing.T) {
	runner, _ := newTestRunner(t)

	task := &problem.Task{ID: "t1", OwningUserID: "alice", EnabledStages: []problem.Stage{problem.StageFetch}, UploadAdapter: "codeforces"}
	p := &problem.Problem{ID: "p1", TaskID: "t1", OwningUserID: "alice", NormalizedID: "cf_1a", RawRef: "1a", SourceAdapter: "codeforces"}

	err := runner.Run(context.Background(), task, p)
	require.NoError(t, err)
	assert.Equal(t, problem.StatusCompleted, p.Status)
}

func TestRunner_FailsWithoutAdapterCapableOfUpload(t *testing.T) {
	runner, _ := newTestRunner(t)

	task := &problem.Task{ID: "t2", OwningUserID: "alice", EnabledStages: []problem.Stage{problem.StageFetch, problem.StageUpload}, UploadAdapter: "codeforces"}
	p := &problem.Problem{ID: "p2", TaskID: "t2", OwningUserID: "alice", NormalizedID: "cf_1b", RawRef: "1b", SourceAdapter: "codeforces"}

	err := runner.Run(context.Background(), task, p)
	require.Error(t, err)
	assert.Equal(t, problem.FailedStageStatus(problem.StageUpload), p.Status)
}

func TestRunner_CancelledContextShortCircuits(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &problem.Task{ID: "t3", OwningUserID: "alice", EnabledStages: []problem.Stage{problem.StageFetch}, UploadAdapter: "codeforces"}
	p := &problem.Problem{ID: "p3", TaskID: "t3", OwningUserID: "alice", NormalizedID: "cf_1c", RawRef: "1c", SourceAdapter: "codeforces"}

	err := runner.Run(ctx, task, p)
	require.Error(t, err)
}

func TestResetForRetry_ClearsDownstreamArtifacts(t *testing.T) {
	wsStore, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)
	ws, err := wsStore.OpenOrCreate("alice", "cf_1a")
	require.NoError(t, err)
	require.NoError(t, ws.WriteStatement(workspace.Statement{Title: "cached"}))
	require.NoError(t, ws.PutUploadReceipt("codeforces", workspace.Receipt{RealID: "1"}))

	task := &problem.Task{UploadAdapter: "codeforces"}
	p := &problem.Problem{Status: problem.FailedStageStatus(problem.StageUpload), UpdatedAt: time.Now()}

	require.NoError(t, ResetForRetry(ws, task, p, problem.StageGenerate))
	assert.True(t, ws.HasStatement(), "retrying from generate must preserve the fetched statement")
	_, ok := ws.GetUploadReceipt("codeforces")
	assert.False(t, ok, "retrying from generate must clear the downstream upload receipt")
	assert.Equal(t, problem.StatusPending, p.Status)
}
