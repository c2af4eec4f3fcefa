package steps

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/engine/shape"
	"github.com/haldane/stepflow/pkg/errors"
)

// Filter keeps the input items for which the configured predicate holds.
// The predicate is an expr expression evaluated once per item with `item`,
// `index`, and the workflow `inputs` in scope.
type Filter struct {
	programs *predicateCache
}

// NewFilter creates a filter step backed by the given predicate cache.
// A nil cache gets a private one.
func NewFilter(programs *predicateCache) *Filter {
	if programs == nil {
		programs = newPredicateCache()
	}
	return &Filter{programs: programs}
}

// Type returns the registered step type name.
func (s *Filter) Type() string { return TypeFilter }

// Execute applies the predicate to each input item. A non-array input is
// treated as a single item; a nil input yields an empty array.
func (s *Filter) Execute(ctx context.Context, input any, config map[string]any, ec *engine.ExecutionContext) (*engine.StepResult, error) {
	predicate, ok := stringOption(config, "predicate")
	if !ok || predicate == "" {
		return nil, &errors.ValidationError{
			Field:      "predicate",
			Message:    "filter requires a predicate expression",
			Suggestion: "set config.predicate to a boolean expression over `item`, e.g. \"item.status == 'active'\"",
		}
	}

	program, err := s.programs.compile(predicate)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "predicate",
			Message:    fmt.Sprintf("failed to compile predicate: %s", err),
			Suggestion: "check expression syntax",
		}
	}

	items := asItems(input)

	var inputs map[string]any
	if ec != nil {
		inputs = ec.Inputs
	}

	kept := make([]any, 0, len(items))
	for i, item := range items {
		match, err := expr.Run(program, map[string]any{
			"item":   item,
			"index":  i,
			"inputs": inputs,
		})
		if err != nil {
			return nil, fmt.Errorf("predicate on item %d: %w", i, err)
		}
		if keep, _ := match.(bool); keep {
			kept = append(kept, item)
		}
	}

	return &engine.StepResult{
		Success: true,
		Output:  kept,
		Metrics: engine.NodeMetrics{ItemsProcessed: len(items)},
	}, nil
}

// FormatOutput returns the filtered items unchanged.
func (s *Filter) FormatOutput(result any, originalInput any) any {
	return result
}

// Validate compiles the configured predicate without running it.
func (s *Filter) Validate(config map[string]any) *engine.ValidationResult {
	predicate, ok := stringOption(config, "predicate")
	if !ok || predicate == "" {
		return invalidResult("predicate is required and must be a string")
	}
	if _, err := s.programs.compile(predicate); err != nil {
		return invalidResult(fmt.Sprintf("invalid predicate: %s", err))
	}
	return validResult()
}

// asItems interprets a node input as a list of items: arrays directly,
// conventionally wrapped objects through their array property, nil as
// empty, and anything else as a single item.
func asItems(input any) []any {
	if input == nil {
		return []any{}
	}
	if arr, ok := shape.ExtractArray(input); ok {
		return arr
	}
	return []any{input}
}

// predicateCache caches compiled predicate programs. Workflows re-run the
// same predicates on every execution, so compilation happens once.
type predicateCache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newPredicateCache() *predicateCache {
	return &predicateCache{programs: make(map[string]*vm.Program)}
}

func (c *predicateCache) compile(predicate string) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[predicate]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(predicate,
		// Items are schemaless, so the environment is dynamic
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.programs[predicate] = program
	c.mu.Unlock()

	return program, nil
}
