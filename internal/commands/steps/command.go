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

package steps

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haldane/stepflow/internal/commands/shared"
	builtins "github.com/haldane/stepflow/internal/steps"
	"github.com/haldane/stepflow/pkg/engine"
)

// NewCommand creates the steps command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "List registered step types",
		Long: `Steps lists the step types a workflow definition's nodes may declare.
These are the builtin types registered at startup.`,
		Args: cobra.NoArgs,
		RunE: runSteps,
	}

	return cmd
}

func runSteps(cmd *cobra.Command, args []string) error {
	registry := engine.NewMapRegistry()
	if err := builtins.RegisterAll(registry); err != nil {
		return shared.NewConfigError("registering builtin steps", err)
	}

	types := registry.Types()

	if shared.GetJSON() {
		type response struct {
			shared.JSONResponse
			Steps []string `json:"steps"`
		}
		return shared.EmitJSON(response{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "steps", Success: true},
			Steps:        types,
		})
	}

	for _, stepType := range types {
		fmt.Fprintln(cmd.OutOrStdout(), stepType)
	}
	return nil
}
