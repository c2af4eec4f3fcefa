package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStep is a configurable Step double. A nil execute succeeds and
// echoes the input; a nil format passes the raw result through; a nil
// validate accepts any config.
type fakeStep struct {
	typeName string
	execute  func(ctx context.Context, input any, config map[string]any, ec *ExecutionContext) (*StepResult, error)
	format   func(result any, originalInput any) any
	validate func(config map[string]any) *ValidationResult
}

func (s *fakeStep) Type() string { return s.typeName }

func (s *fakeStep) Execute(ctx context.Context, input any, config map[string]any, ec *ExecutionContext) (*StepResult, error) {
	if s.execute != nil {
		return s.execute(ctx, input, config, ec)
	}
	return &StepResult{Success: true, Output: input}, nil
}

func (s *fakeStep) FormatOutput(result any, originalInput any) any {
	if s.format != nil {
		return s.format(result, originalInput)
	}
	return result
}

func (s *fakeStep) Validate(config map[string]any) *ValidationResult {
	if s.validate != nil {
		return s.validate(config)
	}
	return &ValidationResult{Valid: true}
}

// newTestEngine wires an engine over a fresh memory store with the
// given step doubles registered under their type names.
func newTestEngine(t *testing.T, steps []*fakeStep, opts ...Option) (*Engine, *MemoryStore) {
	t.Helper()

	registry := NewMapRegistry()
	for _, step := range steps {
		step := step
		require.NoError(t, registry.Register(step.typeName, func() Step { return step }))
	}

	store := NewMemoryStore()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	eng, err := New(registry, store, opts...)
	require.NoError(t, err)
	return eng, store
}
