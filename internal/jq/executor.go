// Package jq provides shared jq expression execution utilities.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itchyny/gojq"

	stepflowerrors "github.com/haldane/stepflow/pkg/errors"
)

const (
	// DefaultTimeout is the default execution time for jq expressions (1 second)
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024
)

// Executor evaluates jq expressions with timeout and input-size limits.
// Compiled programs are cached per expression: source selectors and
// transform steps re-run the same expression for every node execution,
// so compilation cost is paid once.
type Executor struct {
	timeout      time.Duration
	maxInputSize int64

	mu       sync.RWMutex
	programs map[string]*gojq.Code
}

// NewExecutor creates a new jq executor with the given limits. Zero
// values fall back to the defaults.
func NewExecutor(timeout time.Duration, maxInputSize int64) *Executor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}

	return &Executor{
		timeout:      timeout,
		maxInputSize: maxInputSize,
		programs:     make(map[string]*gojq.Code),
	}
}

// Execute runs a jq expression against the given data with timeout
// protection. An empty expression returns the data unchanged. A single
// jq result is returned directly; multiple results come back as an
// array; no results come back as nil.
func (e *Executor) Execute(ctx context.Context, expression string, data any) (any, error) {
	if expression == "" {
		return data, nil
	}

	if err := e.validateInputSize(data); err != nil {
		return nil, err
	}

	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultChan := make(chan any, 1)
	errorChan := make(chan error, 1)

	go func() {
		// RunWithContext halts the query when the deadline expires,
		// instead of leaving it running behind a timed-out caller.
		iter := code.RunWithContext(execCtx, data)

		var results []any
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}

			if err, isErr := v.(error); isErr {
				errorChan <- err
				return
			}

			results = append(results, v)
		}

		switch len(results) {
		case 0:
			resultChan <- nil
		case 1:
			resultChan <- results[0]
		default:
			resultChan <- results
		}
	}()

	select {
	case result := <-resultChan:
		return result, nil
	case err := <-errorChan:
		if execCtx.Err() != nil {
			return nil, &stepflowerrors.TimeoutError{
				Operation: "jq evaluation",
				Duration:  e.timeout,
				Cause:     err,
			}
		}
		return nil, err
	case <-execCtx.Done():
		return nil, &stepflowerrors.TimeoutError{
			Operation: "jq evaluation",
			Duration:  e.timeout,
		}
	}
}

// Validate checks a jq expression by compiling it. Used during workflow
// validation to catch syntax errors before execution.
func (e *Executor) Validate(expression string) error {
	if expression == "" {
		return nil
	}

	if _, err := e.compile(expression); err != nil {
		return err
	}

	return nil
}

// compile returns the cached program for an expression, parsing and
// compiling on first use.
func (e *Executor) compile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.programs[expression]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	code, err = gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	e.mu.Lock()
	e.programs[expression] = code
	e.mu.Unlock()

	return code, nil
}

// validateInputSize checks if the data size is within limits.
func (e *Executor) validateInputSize(data any) error {
	// Estimate size by marshaling to JSON
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if int64(len(jsonData)) > e.maxInputSize {
		return fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)",
			len(jsonData), e.maxInputSize)
	}

	return nil
}
