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
	"fmt"

	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/workspace"
)

// ResetForRetry prepares a Problem for a user-initiated retry re-entering
// at fromStage: it clears that stage's workspace artifact and every
// stage after it, so the effective-stage-set computation in Run re-
// executes fromStage forward. Unlike the "only if inputs changed"
// optimization spec.md §4.6 allows, this always clears downstream
// artifacts on retry — see the Open Question decision in DESIGN.md.
func ResetForRetry(ws workspace.Workspace, task *problem.Task, p *problem.Problem, fromStage problem.Stage) error {
	idx := stageIndex(fromStage)
	if idx < 0 {
		return fmt.Errorf("pipeline: unknown stage %q", fromStage)
	}

	for _, st := range problem.Stages[idx:] {
		switch st {
		case problem.StageFetch:
			if err := ws.ClearStatement(); err != nil {
				return fmt.Errorf("pipeline: clearing statement: %w", err)
			}
		case problem.StageGenerate:
			if err := ws.ClearGeneratedData(); err != nil {
				return fmt.Errorf("pipeline: clearing generated data: %w", err)
			}
		case problem.StageUpload:
			if err := ws.ClearUploadReceipt(task.UploadAdapter); err != nil {
				return fmt.Errorf("pipeline: clearing upload receipt: %w", err)
			}
		case problem.StageSolve:
			// No workspace artifact to clear: Solve has no idempotency
			// oracle, so re-entering it needs no cleanup.
		}
	}

	p.Status = problem.StatusPending
	p.CurrentStage = ""
	p.Attempt = 0
	p.LastError = ""
	p.LastErrorKind = ""
	return nil
}

func stageIndex(st problem.Stage) int {
	for i, s := range problem.Stages {
		if s == st {
			return i
		}
	}
	return -1
}
