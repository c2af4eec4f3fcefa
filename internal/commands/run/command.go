// Copyright 2025 Casey Haldane
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

package run

import (
	"github.com/spf13/cobra"
)

// options collects the run command's flag values.
type options struct {
	inputs      []string
	inputFile   string
	outputFile  string
	mode        string
	errorPolicy string
	store       string
	storePath   string
	maxParallel int
	watch       bool
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow",
		Long: `Run executes a stepflow workflow definition.

The definition's scheduling mode and error policy apply unless overridden
on the command line:
  --mode           sequential, parallel, or hybrid
  --error-policy   stop (fail fast) or continue (record and keep going)

Execution records are held in memory by default. With --store sqlite the
record survives the process and can be inspected afterwards:
  stepflow run workflow.yaml --store sqlite --store-path runs.db

Watch mode re-executes the workflow whenever the definition file changes:
  stepflow run workflow.yaml --watch

Press Ctrl-C once to cancel the execution at the next node boundary; the
node currently executing finishes and is recorded.`,
		Example: `  # Run with workflow inputs
  stepflow run workflow.yaml --input env=prod --input batch=42

  # Run every dependency-satisfied node concurrently
  stepflow run workflow.yaml --mode parallel

  # Keep going past node failures and inspect the record as JSON
  stepflow run workflow.yaml --error-policy continue --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, "Workflow input in key=value format")
	cmd.Flags().StringVar(&opts.inputFile, "input-file", "", "JSON file with inputs (use '-' for stdin)")
	cmd.Flags().StringVarP(&opts.outputFile, "output", "o", "", "Write the execution record to a file as JSON")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Override execution mode (sequential, parallel, hybrid)")
	cmd.Flags().StringVar(&opts.errorPolicy, "error-policy", "", "Override error policy (stop, continue)")
	cmd.Flags().StringVar(&opts.store, "store", "", "Execution store driver (memory, sqlite)")
	cmd.Flags().StringVar(&opts.storePath, "store-path", "", "SQLite database path (with --store sqlite)")
	cmd.Flags().IntVar(&opts.maxParallel, "max-parallel", 0, "Bound concurrent node executions in a batch")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-run when the definition file changes")

	return cmd
}
