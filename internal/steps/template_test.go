package steps

import (
	"context"
	"strings"
	"testing"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/errors"
)

func TestTemplateExecute(t *testing.T) {
	step := NewTemplate()
	ctx := context.Background()

	t.Run("renders input and context", func(t *testing.T) {
		ec := &engine.ExecutionContext{
			ExecutionID:  "exec-1",
			WorkflowName: "ingest",
			NodeID:       "report",
			Inputs:       map[string]any{"region": "eu"},
		}
		config := map[string]any{
			"template": "{{.workflow}}/{{.node}} handled {{len .input}} records for {{.inputs.region}}",
		}

		result, err := step.Execute(ctx, []any{1, 2, 3}, config, ec)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}

		want := "ingest/report handled 3 records for eu"
		if result.Output != want {
			t.Errorf("Output = %q, want %q", result.Output, want)
		}
		if result.Metrics.BytesProcessed != len(want) {
			t.Errorf("BytesProcessed = %d, want %d", result.Metrics.BytesProcessed, len(want))
		}
	})

	t.Run("missing key fails the render", func(t *testing.T) {
		config := map[string]any{"template": "{{.input.nope}}"}
		_, err := step.Execute(ctx, map[string]any{"present": 1}, config, nil)
		if err == nil {
			t.Fatal("Execute() should fail on a missing key")
		}
		if !strings.Contains(err.Error(), "rendering template") {
			t.Errorf("error = %v, want rendering template", err)
		}
	})

	t.Run("missing template config", func(t *testing.T) {
		_, err := step.Execute(ctx, nil, map[string]any{}, nil)

		var validationErr *errors.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("Execute() error = %v, want ValidationError", err)
		}
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := step.Execute(ctx, nil, map[string]any{"template": "{{.input"}, nil)

		var validationErr *errors.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("Execute() error = %v, want ValidationError", err)
		}
	})
}

func TestTemplateValidate(t *testing.T) {
	step := NewTemplate()

	t.Run("valid template", func(t *testing.T) {
		result := step.Validate(map[string]any{"template": "{{.input}}"})
		if !result.Valid {
			t.Errorf("Valid = false, want true: %v", result.Errors)
		}
	})

	t.Run("missing template", func(t *testing.T) {
		if result := step.Validate(map[string]any{}); result.Valid {
			t.Error("Valid = true, want false")
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		if result := step.Validate(map[string]any{"template": "{{.input"}); result.Valid {
			t.Error("Valid = true, want false")
		}
	})
}
