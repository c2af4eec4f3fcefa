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
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/haldane/stepflow/internal/commands/shared"
	"github.com/haldane/stepflow/pkg/engine"
)

func TestRunCommand(t *testing.T) {
	cmd := NewCommand()

	if cmd.Use != "run <workflow>" {
		t.Errorf("expected use 'run <workflow>', got %q", cmd.Use)
	}

	for _, flag := range []string{"input", "input-file", "output", "mode", "error-policy", "store", "store-path", "max-parallel", "watch"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected flag --%s to be registered", flag)
		}
	}
}

const testWorkflow = `
name: doubler
nodes:
  - id: source
    type: template
    config:
      template: "start"
  - id: echo
    type: merge
edges:
  - source: source
    target: echo
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunWorkflow_Completes(t *testing.T) {
	shared.SetConfigPathForTest("")
	path := writeWorkflow(t, testWorkflow)

	err := runWorkflow(context.Background(), path, options{})
	if err != nil {
		t.Fatalf("expected successful run, got %v", err)
	}
}

func TestRunWorkflow_RecordToFile(t *testing.T) {
	shared.SetConfigPathForTest("")
	path := writeWorkflow(t, testWorkflow)
	outPath := filepath.Join(t.TempDir(), "record.json")

	err := runWorkflow(context.Background(), path, options{outputFile: outPath})
	if err != nil {
		t.Fatalf("expected successful run, got %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("expected record file to be written: %v", err)
	}

	var rec engine.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("record file is not valid JSON: %v", err)
	}
	if rec.Status != engine.StatusCompleted {
		t.Errorf("expected completed record, got %s", rec.Status)
	}
	if len(rec.Snapshots) != 2 {
		t.Errorf("expected 2 node snapshots, got %d", len(rec.Snapshots))
	}
}

func TestRunWorkflow_InvalidDefinitionExitCode(t *testing.T) {
	shared.SetConfigPathForTest("")
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

	err := runWorkflow(context.Background(), path, options{})
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
}

func TestRunWorkflow_FailedNodeExitCode(t *testing.T) {
	shared.SetConfigPathForTest("")
	path := writeWorkflow(t, `
name: failing
nodes:
  - id: bad
    type: transform
    config:
      expression: "error(\"boom\")"
`)

	err := runWorkflow(context.Background(), path, options{})
	if err == nil {
		t.Fatal("expected error for failing workflow")
	}

	var exitErr *shared.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T", err)
	}
	if exitErr.Code != shared.ExitExecutionFailed {
		t.Errorf("expected exit code %d, got %d", shared.ExitExecutionFailed, exitErr.Code)
	}
}

func TestRunWorkflow_ModeOverride(t *testing.T) {
	shared.SetConfigPathForTest("")
	path := writeWorkflow(t, testWorkflow)
	outPath := filepath.Join(t.TempDir(), "record.json")

	err := runWorkflow(context.Background(), path, options{mode: "parallel", outputFile: outPath})
	if err != nil {
		t.Fatalf("expected successful parallel run, got %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var rec engine.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Mode != "parallel" {
		t.Errorf("expected parallel mode on record, got %s", rec.Mode)
	}
}
