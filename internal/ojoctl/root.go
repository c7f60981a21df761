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
	"github.com/spf13/cobra"
)

// rootFlags holds the CLI's global flags.
type rootFlags struct {
	configPath string
	userID     string
}

// NewRootCommand builds the ojoctl root command. Every subcommand lazily
// builds its own App from the --config/--user flags on first use, so
// `ojoctl --help` never has to open a store.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "ojoctl",
		Short:         "Operator CLI for the contest-problem batch engine",
		Long:          `ojoctl lists, retries, and inspects batch tasks, and reads/adjusts the concurrency gates, by calling straight into the Task Service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default: XDG config dir)")
	cmd.PersistentFlags().StringVar(&flags.userID, "user", "operator", "owning user id for the commands in this invocation")

	cmd.AddCommand(newTaskCommand(flags))
	cmd.AddCommand(newGateCommand(flags))

	return cmd
}
