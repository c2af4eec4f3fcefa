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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haldane/stepflow/internal/commands/shared"
)

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, path string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var errBuf bytes.Buffer
	cmd.SetErr(&errBuf)
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return errBuf.String(), err
}

func TestValidateCommand_Valid(t *testing.T) {
	path := writeWorkflow(t, `
name: ok
nodes:
  - id: a
    type: merge
  - id: b
    type: merge
edges:
  - source: a
    target: b
`)

	stderr, err := runCommand(t, path)
	if err != nil {
		t.Fatalf("expected valid workflow, got error: %v\nstderr: %s", err, stderr)
	}
}

func TestValidateCommand_Cycle(t *testing.T) {
	path := writeWorkflow(t, `
name: cyclic
nodes:
  - id: a
    type: merge
  - id: b
    type: merge
edges:
  - source: a
    target: b
  - source: b
    target: a
`)

	stderr, err := runCommand(t, path)
	if err == nil {
		t.Fatal("expected error for cyclic workflow")
	}

	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if exitErr.Code != shared.ExitInvalidWorkflow {
		t.Errorf("expected exit code %d, got %d", shared.ExitInvalidWorkflow, exitErr.Code)
	}
	if !strings.Contains(stderr, "cycle") {
		t.Errorf("expected cycle in stderr, got: %s", stderr)
	}
}

func TestValidateCommand_UnknownStepType(t *testing.T) {
	path := writeWorkflow(t, `
name: unknown-step
nodes:
  - id: a
    type: summon-demons
`)

	stderr, err := runCommand(t, path)
	if err == nil {
		t.Fatal("expected error for unknown step type")
	}
	if !strings.Contains(stderr, "summon-demons") {
		t.Errorf("expected step type in stderr, got: %s", stderr)
	}
}

func TestValidateCommand_BadStepConfig(t *testing.T) {
	path := writeWorkflow(t, `
name: bad-config
nodes:
  - id: a
    type: template
`)

	_, err := runCommand(t, path)
	if err == nil {
		t.Fatal("expected error for missing template config")
	}
}

func TestValidateCommand_BadCondition(t *testing.T) {
	path := writeWorkflow(t, `
name: bad-condition
nodes:
  - id: a
    type: merge
    condition: "nodes.ghost.count > 1"
`)

	stderr, err := runCommand(t, path)
	if err == nil {
		t.Fatal("expected error for condition referencing unknown node")
	}
	if !strings.Contains(stderr, "ghost") {
		t.Errorf("expected unknown node id in stderr, got: %s", stderr)
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := runCommand(t, "/nonexistent/workflow.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if exitErr.Code != shared.ExitInvalidWorkflow {
		t.Errorf("expected exit code %d, got %d", shared.ExitInvalidWorkflow, exitErr.Code)
	}
}
