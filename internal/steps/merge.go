package steps

import (
	"context"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/engine/shape"
)

// Merge is an explicit join point for parallel branches. The input
// resolver has already combined the upstream outputs by the time the step
// runs, so the step passes its input through; config.flatten collapses one
// level of nested arrays for joins whose branches each produced an array.
type Merge struct{}

// NewMerge creates a merge step.
func NewMerge() *Merge {
	return &Merge{}
}

// Type returns the registered step type name.
func (s *Merge) Type() string { return TypeMerge }

// Execute passes the resolved input through, flattening when configured.
func (s *Merge) Execute(ctx context.Context, input any, config map[string]any, ec *engine.ExecutionContext) (*engine.StepResult, error) {
	out := input

	if boolOption(config, "flatten") {
		if arr, ok := shape.AsArray(input); ok {
			flattened := make([]any, 0, len(arr))
			for _, elem := range arr {
				if inner, ok := shape.AsArray(elem); ok {
					flattened = append(flattened, inner...)
					continue
				}
				flattened = append(flattened, elem)
			}
			out = flattened
		}
	}

	return &engine.StepResult{
		Success: true,
		Output:  out,
		Metrics: engine.NodeMetrics{ItemsProcessed: shape.ItemCount(out)},
	}, nil
}

// FormatOutput returns the joined value unchanged.
func (s *Merge) FormatOutput(result any, originalInput any) any {
	return result
}

// Validate accepts any config; flatten is optional.
func (s *Merge) Validate(config map[string]any) *engine.ValidationResult {
	if v, ok := config["flatten"]; ok {
		if _, isBool := v.(bool); !isBool {
			return invalidResult("flatten must be a boolean")
		}
	}
	return validResult()
}
