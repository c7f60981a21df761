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

package ojoctl

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Inkotake/ojo-agent/internal/problem"
	"github.com/Inkotake/ojo-agent/internal/taskservice"
)

// truncateForTerminal shortens s to fit a column rendered in the current
// terminal width, leaving room for the rest of the row. Non-terminal
// stdout (piped output, CI logs) gets the full, untruncated string.
func truncateForTerminal(s string, reserved int) string {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= reserved {
		return s
	}
	limit := width - reserved
	if len(s) <= limit {
		return s
	}
	if limit <= 1 {
		return s[:1]
	}
	return s[:limit-1] + "…"
}

func newTaskCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage batch tasks",
	}

	cmd.AddCommand(newTaskCreateCommand(flags))
	cmd.AddCommand(newTaskListCommand(flags))
	cmd.AddCommand(newTaskShowCommand(flags))
	cmd.AddCommand(newTaskRetryCommand(flags))
	cmd.AddCommand(newTaskDeleteCommand(flags))
	cmd.AddCommand(newTaskDownloadCommand(flags))

	return cmd
}

func newTaskCreateCommand(flags *rootFlags) *cobra.Command {
	var stages string
	var uploadAdapter, genProvider, solveProvider string

	cmd := &cobra.Command{
		Use:   "create <ref> [ref...]",
		Short: "Admit a new task for one or more problem references",
		Example: `  # Example: fetch and generate test data for two problems
  ojoctl task create --stages fetch,generate 1500A 1500B

  # Example: run the full F/G/U/S pipeline through a judge
  ojoctl task create --stages fetch,generate,upload,solve --upload-adapter codeforces --solve-provider anthropic 1500A`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			spec := taskservice.TaskSpec{
				UploadAdapter: uploadAdapter,
				GenProvider:   genProvider,
				SolveProvider: solveProvider,
			}
			for _, raw := range args {
				spec.ProblemRefs = append(spec.ProblemRefs, problem.ProblemRef{Raw: raw})
			}
			for _, s := range strings.Split(stages, ",") {
				s = strings.TrimSpace(s)
				if s != "" {
					spec.EnabledStages = append(spec.EnabledStages, problem.Stage(s))
				}
			}

			task, err := app.Service.CreateTask(cmd.Context(), flags.userID, spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created task %s with %d problem(s)\n", task.ID, len(task.ProblemRefs))
			return nil
		},
	}

	cmd.Flags().StringVar(&stages, "stages", "fetch,generate", "comma-separated enabled stages: fetch,generate,upload,solve")
	cmd.Flags().StringVar(&uploadAdapter, "upload-adapter", "", "adapter name to upload problems to")
	cmd.Flags().StringVar(&genProvider, "gen-provider", "", "LLM provider name for the generate stage")
	cmd.Flags().StringVar(&solveProvider, "solve-provider", "", "LLM provider name for the solve stage")

	return cmd
}

func newTaskListCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks owned by the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			tasks, err := app.Service.ListTasks(cmd.Context(), flags.userID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPROBLEMS\tCREATED")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Status, len(t.ProblemRefs), t.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func newTaskShowCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			task, problems, err := app.Service.GetTask(cmd.Context(), flags.userID, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "task %s: %s (%d problems)\n", task.ID, task.Status, len(problems))
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROBLEM\tSTATUS\tSTAGE\tLAST ERROR")
			for _, p := range problems {
				lastErr := truncateForTerminal(p.LastError, len(p.NormalizedID)+len(p.Status)+len(p.CurrentStage)+12)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.NormalizedID, p.Status, p.CurrentStage, lastErr)
			}
			return w.Flush()
		},
	}
}

func newTaskRetryCommand(flags *rootFlags) *cobra.Command {
	var fromStage string

	cmd := &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Re-admit every non-completed problem in a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Service.Retry(cmd.Context(), flags.userID, args[0], problem.Stage(fromStage))
		},
	}

	cmd.Flags().StringVar(&fromStage, "from-stage", string(problem.StageFetch), "stage to resume from: fetch, generate, upload, or solve")
	return cmd
}

func newTaskDeleteCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Cancel a task's in-flight problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Service.Delete(cmd.Context(), flags.userID, args[0])
		},
	}
}

func newTaskDownloadCommand(flags *rootFlags) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <task-id>",
		Short: "Download a zip of every problem's workspace in a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			data, err := app.Service.DownloadWorkspace(cmd.Context(), flags.userID, args[0])
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = args[0] + ".zip"
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("ojoctl: writing archive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", outPath, len(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "output zip path (default: <task-id>.zip)")
	return cmd
}
