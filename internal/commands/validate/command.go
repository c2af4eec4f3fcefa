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

package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haldane/stepflow/internal/commands/shared"
	"github.com/haldane/stepflow/internal/steps"
	"github.com/haldane/stepflow/pkg/engine"
	pkgerrors "github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/workflow"
)

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow definition without executing it",
		Long: `Validate checks that a workflow file has valid YAML syntax, satisfies
the definition constraints (unique node ids, known modes, edge references),
forms an acyclic graph, declares only registered step types, and passes
each step's configuration validation. Node conditions are checked for
expression syntax and for references to declared nodes.

No node is executed.`,
		Example: `  # Basic validation
  stepflow validate workflow.yaml

  # Validation with machine-readable output
  stepflow validate workflow.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}

	return cmd
}

// result is the JSON envelope emitted for --json output.
type result struct {
	shared.JSONResponse
	Workflow *workflowInfo      `json:"workflow,omitempty"`
	Errors   []shared.JSONError `json:"errors,omitempty"`
}

type workflowInfo struct {
	Name  string `json:"name"`
	Mode  string `json:"mode"`
	Nodes int    `json:"nodes"`
	Edges int    `json:"edges"`
}

func runValidate(cmd *cobra.Command, path string) error {
	useJSON := shared.GetJSON()

	def, err := workflow.LoadFile(path)
	if err != nil {
		return report(cmd, useJSON, path, shared.JSONError{
			Code:       shared.ErrorCodeInvalidYAML,
			Message:    err.Error(),
			Suggestion: "Check YAML syntax and the definition structure",
		})
	}

	registry := engine.NewMapRegistry()
	if err := steps.RegisterAll(registry); err != nil {
		return shared.NewConfigError("registering builtin steps", err)
	}
	store := engine.NewMemoryStore()
	defer store.Close()

	eng, err := engine.New(registry, store)
	if err != nil {
		return shared.NewConfigError("constructing engine", err)
	}

	if err := eng.ValidateDefinition(def); err != nil {
		return report(cmd, useJSON, path, classify(err))
	}

	if useJSON {
		return shared.EmitJSON(result{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "validate", Success: true},
			Workflow: &workflowInfo{
				Name:  def.Name,
				Mode:  string(def.Mode),
				Nodes: len(def.Nodes),
				Edges: len(def.Edges),
			},
		})
	}
	if !shared.GetQuiet() {
		fmt.Printf("%s: valid (%d nodes, %d edges, %s mode)\n", path, len(def.Nodes), len(def.Edges), def.Mode)
	}
	return nil
}

// classify maps a validation failure to its structured error code.
func classify(err error) shared.JSONError {
	var graphErr *pkgerrors.GraphError
	if pkgerrors.As(err, &graphErr) {
		return shared.JSONError{
			Code:       shared.ErrorCodeGraphError,
			Message:    err.Error(),
			NodeID:     graphErr.NodeID,
			Suggestion: "Break the cycle or fix the edge reference",
		}
	}

	var notFound *pkgerrors.StepNotFoundError
	if pkgerrors.As(err, &notFound) {
		return shared.JSONError{
			Code:       shared.ErrorCodeUnknownStepType,
			Message:    err.Error(),
			Suggestion: "Run 'stepflow steps' to list the registered step types",
		}
	}

	jsonErr := shared.JSONError{
		Code:    shared.ErrorCodeInvalidDefinition,
		Message: err.Error(),
	}
	var validation *pkgerrors.ValidationError
	if pkgerrors.As(err, &validation) {
		jsonErr.Suggestion = validation.Suggestion
	}
	return jsonErr
}

// report emits the failure in the requested format and returns the
// invalid-workflow exit error.
func report(cmd *cobra.Command, useJSON bool, path string, jsonErr shared.JSONError) error {
	if useJSON {
		_ = shared.EmitJSONError("validate", []shared.JSONError{jsonErr})
		return &shared.ExitError{Code: shared.ExitInvalidWorkflow, Message: ""}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: error: %s\n", path, jsonErr.Message)
	if jsonErr.Suggestion != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Suggestion: %s\n", jsonErr.Suggestion)
	}
	return &shared.ExitError{Code: shared.ExitInvalidWorkflow, Message: ""}
}
