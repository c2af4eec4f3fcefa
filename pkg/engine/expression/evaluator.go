package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/haldane/stepflow/pkg/errors"
)

// Evaluator evaluates node condition expressions against an execution
// context. Compiled expressions are cached, since the same condition is
// re-evaluated on every run of its workflow.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates an expression against the given context.
// Returns the boolean result or an error if evaluation fails.
//
// The context should contain:
//   - inputs: map of workflow input values
//   - nodes: map of node outputs keyed by node ID
//
// Example:
//
//	ctx := map[string]any{
//	    "inputs": map[string]any{"regions": []string{"eu"}},
//	    "nodes":  map[string]any{"fetch": []any{...}},
//	}
//	result, err := eval.Evaluate(`has(inputs.regions, "eu")`, ctx)
func (e *Evaluator) Evaluate(expression string, ctx map[string]any) (bool, error) {
	if expression == "" {
		return true, nil // Empty condition defaults to true
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "condition",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure all referenced variables exist",
		}
	}

	// Merge custom functions into context for runtime.
	// Note: "contains" is reserved in expr for string operations.
	evalCtx := make(map[string]any, len(ctx)+3)
	for k, v := range ctx {
		evalCtx[k] = v
	}
	evalCtx["has"] = containsFunc
	evalCtx["includes"] = containsFunc
	evalCtx["length"] = lenFunc

	result, err := expr.Run(program, evalCtx)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "condition",
			Message:    fmt.Sprintf("expression evaluation failed: %s", err.Error()),
			Suggestion: "verify that all referenced variables exist in the execution context",
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:      "condition",
			Message:    fmt.Sprintf("expression must return boolean, got %T (%v)", result, result),
			Suggestion: "use comparison operators (==, !=, <, >, etc.) or boolean functions",
		}
	}

	return boolResult, nil
}

// Validate compiles an expression without evaluating it, reporting
// syntax errors. Used by definition validation before any execution.
func (e *Evaluator) Validate(expression string) error {
	if expression == "" {
		return nil
	}
	if _, err := e.compile(expression); err != nil {
		return &errors.ValidationError{
			Field:      "condition",
			Message:    fmt.Sprintf("failed to compile expression: %s", err.Error()),
			Suggestion: "check expression syntax and ensure all referenced variables exist",
		}
	}
	return nil
}

// compile compiles an expression and caches the result.
func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	// Note: "contains" is a reserved string operator in expr, so the
	// custom membership functions are "has" and "includes".
	env := map[string]any{
		"has":      containsFunc,
		"includes": containsFunc,
		"length":   lenFunc,
	}

	prog, err := expr.Compile(expression,
		expr.Env(env),
		// The real context arrives at run time
		expr.AllowUndefinedVariables(),
		// Conditions must return boolean
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// ClearCache clears the expression cache.
// This is mainly useful for testing.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize returns the number of cached expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
