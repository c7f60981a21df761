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
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Inkotake/ojo-agent/internal/gate"
)

// fixedGates are the gates always present in a Controller, in
// acquisition order; per-user/per-provider gates are created lazily and
// aren't listed here since their names are unbounded.
var fixedGates = []string{
	gate.GlobalTasks, gate.PerUser, gate.StageFetch, gate.StageUpload, gate.StageSolve, gate.LLMTotal, gate.Queue,
}

func newGateCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and adjust the concurrency gates",
	}

	cmd.AddCommand(newGateGetCommand(flags))
	cmd.AddCommand(newGateSetCommand(flags))

	return cmd
}

func newGateGetCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show current in-flight/capacity for every fixed gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GATE\tIN-FLIGHT\tCAPACITY")
			for _, name := range fixedGates {
				inFlight, capacity := app.Gates.Occupancy(name)
				fmt.Fprintf(w, "%s\t%d\t%d\n", name, inFlight, capacity)
			}
			return w.Flush()
		},
	}
}

func newGateSetCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <gate-name> <capacity>",
		Short: "Reconfigure a gate's capacity",
		Example: `  # Example: raise the global concurrency ceiling to 100
  ojoctl gate set global_tasks 100`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("ojoctl: capacity must be an integer: %w", err)
			}

			app, err := NewApp(flags.configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			app.Gates.Reconfigure(args[0], capacity)
			fmt.Fprintf(cmd.OutOrStdout(), "%s capacity is now %d\n", args[0], capacity)
			return nil
		},
	}
}
