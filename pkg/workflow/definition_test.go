package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haldane/stepflow/pkg/errors"
)

func TestParseDefinition(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid workflow",
			yaml: `
name: test-workflow
version: "1.0"
description: A test workflow
mode: sequential
nodes:
  - id: fetch
    name: Fetch Records
    type: transform
    config:
      expression: "."
  - id: dedupe
    type: dedupe
edges:
  - source: fetch
    target: dedupe
`,
			wantErr: false,
		},
		{
			name: "missing name",
			yaml: `
version: "1.0"
nodes:
  - id: fetch
    type: transform
edges: []
`,
			wantErr: true,
		},
		{
			name: "missing version (allowed)",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
edges: []
`,
			wantErr: false,
		},
		{
			name: "no nodes",
			yaml: `
name: test-workflow
version: "1.0"
nodes: []
edges: []
`,
			wantErr: true,
		},
		{
			name: "duplicate node IDs",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
  - id: fetch
    type: dedupe
edges: []
`,
			wantErr: true,
		},
		{
			name: "node without type",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
edges: []
`,
			wantErr: true,
		},
		{
			name: "edge references unknown source",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
edges:
  - source: ghost
    target: fetch
`,
			wantErr: true,
		},
		{
			name: "edge references unknown target",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
edges:
  - source: fetch
    target: ghost
`,
			wantErr: true,
		},
		{
			name: "invalid execution mode",
			yaml: `
name: test-workflow
mode: turbo
nodes:
  - id: fetch
    type: transform
edges: []
`,
			wantErr: true,
		},
		{
			name: "invalid error policy",
			yaml: `
name: test-workflow
error_policy: shrug
nodes:
  - id: fetch
    type: transform
edges: []
`,
			wantErr: true,
		},
		{
			name: "invalid node execution mode",
			yaml: `
name: test-workflow
mode: hybrid
nodes:
  - id: fetch
    type: transform
    execution_mode: sideways
edges: []
`,
			wantErr: true,
		},
		{
			name: "previous_node source without node_id",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
  - id: sink
    type: merge
    input_sources:
      - type: previous_node
edges:
  - source: fetch
    target: sink
`,
			wantErr: true,
		},
		{
			name: "dataset source without ref",
			yaml: `
name: test-workflow
nodes:
  - id: sink
    type: merge
    input_sources:
      - type: dataset
edges: []
`,
			wantErr: true,
		},
		{
			name: "unknown input source type",
			yaml: `
name: test-workflow
nodes:
  - id: sink
    type: merge
    input_sources:
      - type: carrier_pigeon
        ref: coop
edges: []
`,
			wantErr: true,
		},
		{
			name: "retry with zero attempts",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
    retry:
      max_attempts: 0
edges: []
`,
			wantErr: true,
		},
		{
			name: "negative timeout",
			yaml: `
name: test-workflow
nodes:
  - id: fetch
    type: transform
    timeout: -5
edges: []
`,
			wantErr: true,
		},
		{
			name: "full feature workflow",
			yaml: `
name: enrichment
description: Fetch, filter, and merge records
version: "1.0"
mode: hybrid
error_policy: continue
inputs:
  region: us-east
nodes:
  - id: fetch
    type: transform
    execution_mode: parallel
    config:
      expression: ".records"
  - id: filter
    type: filter
    execution_mode: parallel
    condition: "inputs.region == 'us-east'"
    input_sources:
      - type: previous_node
        node_id: fetch
        filters:
          status: active
        selector: ".[] | select(.score > 0)"
    retry:
      max_attempts: 3
      backoff_base: 2
  - id: report
    type: template
    disabled: true
edges:
  - source: fetch
    target: filter
  - source: filter
    target: report
`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(tt.yaml))
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDefinition() expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDefinition() unexpected error: %v", err)
			}
			if def == nil {
				t.Fatal("ParseDefinition() returned nil definition without error")
			}
		})
	}
}

func TestParseDefinition_ValidationErrorType(t *testing.T) {
	_, err := ParseDefinition([]byte(`
version: "1.0"
nodes:
  - id: fetch
    type: transform
edges: []
`))
	if err == nil {
		t.Fatal("expected error for missing name")
	}

	var validationErr *errors.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError in chain, got %T: %v", err, err)
	}
	if validationErr.Field != "name" {
		t.Errorf("expected field 'name', got %q", validationErr.Field)
	}
}

func TestApplyDefaults(t *testing.T) {
	def := &Definition{
		Name: "defaults",
		Nodes: []Node{
			{ID: "a", Type: "transform"},
			{ID: "b", Name: "Named", Type: "merge", Retry: &RetryPolicy{MaxAttempts: 2}},
		},
	}

	def.ApplyDefaults()

	if def.Version != DefaultVersion {
		t.Errorf("expected version %q, got %q", DefaultVersion, def.Version)
	}
	if def.Mode != ModeSequential {
		t.Errorf("expected default mode sequential, got %q", def.Mode)
	}
	if def.ErrorPolicy != ErrorPolicyStop {
		t.Errorf("expected default error policy stop, got %q", def.ErrorPolicy)
	}
	if def.Nodes[0].Name != "a" {
		t.Errorf("expected node name to default to id, got %q", def.Nodes[0].Name)
	}
	if def.Nodes[1].Name != "Named" {
		t.Errorf("expected explicit node name preserved, got %q", def.Nodes[1].Name)
	}
	if def.Nodes[0].ExecutionMode != NodeModeConsecutive {
		t.Errorf("expected default node mode consecutive, got %q", def.Nodes[0].ExecutionMode)
	}
	if def.Nodes[1].Retry.BackoffBase != DefaultRetryBackoffBase {
		t.Errorf("expected retry backoff base default, got %d", def.Nodes[1].Retry.BackoffBase)
	}
	if def.Nodes[1].Retry.BackoffMultiplier != DefaultRetryBackoffMultiplier {
		t.Errorf("expected retry backoff multiplier default, got %f", def.Nodes[1].Retry.BackoffMultiplier)
	}
	if def.Nodes[0].Retry != nil {
		t.Error("nodes without retry should stay retry-free")
	}
}

func TestNodeByID(t *testing.T) {
	def := &Definition{
		Name: "lookup",
		Nodes: []Node{
			{ID: "a", Type: "transform"},
			{ID: "b", Type: "merge"},
		},
	}

	if node := def.NodeByID("b"); node == nil || node.ID != "b" {
		t.Errorf("NodeByID(b) = %v, want node b", node)
	}
	if node := def.NodeByID("missing"); node != nil {
		t.Errorf("NodeByID(missing) = %v, want nil", node)
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("loads valid file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "flow.yaml")
		content := `
name: from-file
nodes:
  - id: only
    type: transform
edges: []
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		def, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() unexpected error: %v", err)
		}
		if def.Name != "from-file" {
			t.Errorf("expected name 'from-file', got %q", def.Name)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		if err == nil {
			t.Error("LoadFile() expected error for missing file")
		}
	})
}

func TestExecutionMode_IsValid(t *testing.T) {
	valid := []ExecutionMode{ModeSequential, ModeParallel, ModeHybrid}
	for _, m := range valid {
		if !m.IsValid() {
			t.Errorf("expected %q to be valid", m)
		}
	}
	if ExecutionMode("warp").IsValid() {
		t.Error("expected 'warp' to be invalid")
	}
}

func TestNodeMode_IsValid(t *testing.T) {
	if !NodeModeConsecutive.IsValid() || !NodeModeParallel.IsValid() {
		t.Error("expected standard node modes to be valid")
	}
	if NodeMode("diagonal").IsValid() {
		t.Error("expected 'diagonal' to be invalid")
	}
}

func TestErrorPolicy_IsValid(t *testing.T) {
	if !ErrorPolicyStop.IsValid() || !ErrorPolicyContinue.IsValid() {
		t.Error("expected standard policies to be valid")
	}
	if ErrorPolicy("panic").IsValid() {
		t.Error("expected 'panic' to be invalid")
	}
}
