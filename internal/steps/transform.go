package steps

import (
	"context"
	"fmt"

	"github.com/haldane/stepflow/internal/jq"
	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/engine/shape"
	"github.com/haldane/stepflow/pkg/errors"
)

// Transform runs a jq expression over the node input. The expression is
// the node's config.expression; compiled programs are cached in the shared
// executor.
type Transform struct {
	exec *jq.Executor
}

// NewTransform creates a transform step backed by the given jq executor.
// A nil executor gets a private one with default limits.
func NewTransform(exec *jq.Executor) *Transform {
	if exec == nil {
		exec = jq.NewExecutor(0, 0)
	}
	return &Transform{exec: exec}
}

// Type returns the registered step type name.
func (s *Transform) Type() string { return TypeTransform }

// Execute evaluates the configured jq expression against the input.
func (s *Transform) Execute(ctx context.Context, input any, config map[string]any, ec *engine.ExecutionContext) (*engine.StepResult, error) {
	expression, ok := stringOption(config, "expression")
	if !ok || expression == "" {
		return nil, &errors.ValidationError{
			Field:      "expression",
			Message:    "transform requires a jq expression",
			Suggestion: "set config.expression to a jq program, e.g. \".items | map(.id)\"",
		}
	}

	out, err := s.exec.Execute(ctx, expression, input)
	if err != nil {
		return nil, fmt.Errorf("jq expression: %w", err)
	}

	return &engine.StepResult{
		Success: true,
		Output:  out,
		Metrics: engine.NodeMetrics{ItemsProcessed: shape.ItemCount(out)},
	}, nil
}

// FormatOutput wraps array results in the conventional items envelope so
// the recorded snapshot carries an explicit count.
func (s *Transform) FormatOutput(result any, originalInput any) any {
	if arr, ok := shape.AsArray(result); ok {
		return map[string]any{"items": arr, "count": len(arr)}
	}
	return result
}

// Validate compiles the configured expression without running it.
func (s *Transform) Validate(config map[string]any) *engine.ValidationResult {
	expression, ok := stringOption(config, "expression")
	if !ok || expression == "" {
		return invalidResult("expression is required and must be a string")
	}
	if err := s.exec.Validate(expression); err != nil {
		return invalidResult(fmt.Sprintf("invalid jq expression: %s", err))
	}
	return validResult()
}
