// Package engine executes workflow definitions: it builds the dependency
// graph, schedules nodes under the configured execution mode, resolves
// each node's input from upstream outputs, runs the registered step
// implementations, and records snapshots and metrics for the execution.
package engine

import (
	"context"
	"log/slog"
)

// NodeMetrics carries per-node resource accounting reported by step
// implementations and filled in by the scheduler.
type NodeMetrics struct {
	// ItemsProcessed is the number of data items the node handled
	ItemsProcessed int `json:"items_processed"`

	// BytesProcessed is the JSON-encoded size of the node output
	BytesProcessed int `json:"bytes_processed"`

	// MemoryDeltaBytes is the heap growth observed across the node's
	// execution; negative values are recorded as zero
	MemoryDeltaBytes int64 `json:"memory_delta_bytes"`

	// DurationMs is the node's wall-clock execution time
	DurationMs int64 `json:"duration_ms"`
}

// StepResult is what a step implementation returns from Execute.
type StepResult struct {
	// Success reports whether the step did its work. A false value with
	// a nil Execute error is a soft failure: the output (if any) is kept
	// but the node is recorded as failed.
	Success bool

	// Output is the raw step output before FormatOutput shaping
	Output any

	// Metrics carries whatever accounting the step tracked itself;
	// the scheduler fills in duration and memory
	Metrics NodeMetrics

	// Err is the failure description for soft failures
	Err string
}

// ValidationResult reports the outcome of validating a step configuration.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ExecutionContext carries per-execution collaborators and identifiers
// into step implementations.
type ExecutionContext struct {
	// ExecutionID identifies the running execution
	ExecutionID string

	// WorkflowName is the definition name
	WorkflowName string

	// NodeID identifies the node being executed
	NodeID string

	// Inputs are the workflow-level input values
	Inputs map[string]any

	// Logger is scoped to the execution and node
	Logger *slog.Logger

	// Outputs reads the cached output of a completed node. Steps that
	// aggregate across upstream nodes use this instead of re-running them.
	Outputs OutputLookup
}

// OutputLookup reads a completed node's cached output.
type OutputLookup func(ctx context.Context, nodeID string) (any, bool)

// Step is the interface implemented by all node step types. A Step is
// constructed per node execution by the registry, so implementations may
// keep per-run state in their receiver.
type Step interface {
	// Type returns the registered step type name.
	Type() string

	// Execute runs the step against the resolved input. config is the
	// node's config block passed verbatim from the definition. Returning
	// an error marks the node failed; a soft failure is reported through
	// StepResult.Success instead.
	Execute(ctx context.Context, input any, config map[string]any, ec *ExecutionContext) (*StepResult, error)

	// FormatOutput shapes a raw step result into the form recorded on
	// the node snapshot. Downstream nodes consume the raw result; the
	// formatted value is what the record stores and displays. Most
	// steps return the result unchanged.
	FormatOutput(result any, originalInput any) any

	// Validate checks a config block without executing. Used by
	// definition validation before an execution starts.
	Validate(config map[string]any) *ValidationResult
}
