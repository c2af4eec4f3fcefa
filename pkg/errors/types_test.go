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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	stepflowerrors "github.com/haldane/stepflow/pkg/errors"
)

func TestGraphError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *stepflowerrors.GraphError
		wantMsg string
	}{
		{
			name: "cycle with node",
			err: &stepflowerrors.GraphError{
				Kind:   stepflowerrors.KindCycle,
				NodeID: "fetch",
				Detail: "fetch -> parse -> fetch",
			},
			wantMsg: "graph error (cycle) at node fetch: fetch -> parse -> fetch",
		},
		{
			name: "deadlock without node",
			err: &stepflowerrors.GraphError{
				Kind:   stepflowerrors.KindDeadlock,
				Detail: "no runnable nodes remain",
			},
			wantMsg: "graph error (deadlock): no runnable nodes remain",
		},
		{
			name: "unknown reference",
			err: &stepflowerrors.GraphError{
				Kind:   stepflowerrors.KindUnknownReference,
				NodeID: "ghost",
				Detail: "edge parse -> ghost names an undefined node",
			},
			wantMsg: "graph error (unknown_reference) at node ghost: edge parse -> ghost names an undefined node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("GraphError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestStepNotFoundError_Error(t *testing.T) {
	err := &stepflowerrors.StepNotFoundError{Type: "http_fetch"}
	want := "step type not registered: http_fetch"
	if got := err.Error(); got != want {
		t.Errorf("StepNotFoundError.Error() = %q, want %q", got, want)
	}
}

func TestStepExecutionError_Error(t *testing.T) {
	cause := errors.New("connection refused")
	err := &stepflowerrors.StepExecutionError{
		NodeID:   "fetch",
		StepType: "http_fetch",
		Cause:    cause,
	}

	got := err.Error()
	for _, want := range []string{"fetch", "http_fetch", "connection refused"} {
		if !strings.Contains(got, want) {
			t.Errorf("StepExecutionError.Error() = %q, want to contain %q", got, want)
		}
	}
}

func TestStepExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &stepflowerrors.StepExecutionError{
		NodeID:   "n1",
		StepType: "transform",
		Cause:    cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("StepExecutionError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *stepflowerrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &stepflowerrors.ValidationError{
				Field:      "nodes[0].id",
				Message:    "required field is missing",
				Suggestion: "Give every node a unique id",
			},
			wantMsg: "validation failed on nodes[0].id: required field is missing",
		},
		{
			name: "without field",
			err: &stepflowerrors.ValidationError{
				Message:    "invalid format",
				Suggestion: "Check the definition format",
			},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *stepflowerrors.NotFoundError
		wantMsg string
	}{
		{
			name: "execution not found",
			err: &stepflowerrors.NotFoundError{
				Resource: "execution",
				ID:       "exec-42",
			},
			wantMsg: "execution not found: exec-42",
		},
		{
			name: "output not found",
			err: &stepflowerrors.NotFoundError{
				Resource: "output",
				ID:       "fetch",
			},
			wantMsg: "output not found: fetch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *stepflowerrors.ConfigError
		wantMsg string
	}{
		{
			name: "with key",
			err: &stepflowerrors.ConfigError{
				Key:    "store.path",
				Reason: "directory is not writable",
			},
			wantMsg: "config error at store.path: directory is not writable",
		},
		{
			name: "without key",
			err: &stepflowerrors.ConfigError{
				Reason: "file not found",
			},
			wantMsg: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("file read error")
	err := &stepflowerrors.ConfigError{
		Key:    "config",
		Reason: "failed to load",
		Cause:  cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("ConfigError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *stepflowerrors.TimeoutError
		want []string
	}{
		{
			name: "node timeout",
			err: &stepflowerrors.TimeoutError{
				Operation: "node execution",
				Duration:  30 * time.Second,
			},
			want: []string{"node execution", "30s"},
		},
		{
			name: "store timeout",
			err: &stepflowerrors.TimeoutError{
				Operation: "store write",
				Duration:  2 * time.Minute,
			},
			want: []string{"store write", "2m0s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("TimeoutError.Error() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}

func TestTimeoutError_Unwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &stepflowerrors.TimeoutError{
		Operation: "test",
		Duration:  5 * time.Second,
		Cause:     cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("TimeoutError.Unwrap() = %v, want %v", got, cause)
	}
}

// Test error wrapping with fmt.Errorf
func TestErrorWrapping(t *testing.T) {
	t.Run("GraphError can be wrapped", func(t *testing.T) {
		original := &stepflowerrors.GraphError{
			Kind:   stepflowerrors.KindCycle,
			Detail: "a -> b -> a",
		}
		wrapped := fmt.Errorf("building graph: %w", original)

		var target *stepflowerrors.GraphError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find GraphError in wrapped error")
		}
		if target.Kind != stepflowerrors.KindCycle {
			t.Errorf("unwrapped error Kind = %q, want %q", target.Kind, stepflowerrors.KindCycle)
		}
	})

	t.Run("StepExecutionError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("network timeout")
		stepErr := &stepflowerrors.StepExecutionError{
			NodeID:   "fetch",
			StepType: "http_fetch",
			Cause:    rootCause,
		}
		wrapped := fmt.Errorf("executing node: %w", stepErr)

		var target *stepflowerrors.StepExecutionError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find StepExecutionError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("StepExecutionError.Unwrap() should return root cause")
		}
	})

	t.Run("ValidationError can be wrapped", func(t *testing.T) {
		original := &stepflowerrors.ValidationError{
			Field:   "mode",
			Message: "invalid value",
		}
		wrapped := fmt.Errorf("definition validation: %w", original)

		var target *stepflowerrors.ValidationError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ValidationError in wrapped error")
		}
		if target.Field != "mode" {
			t.Errorf("unwrapped error Field = %q, want %q", target.Field, "mode")
		}
	})

	t.Run("NotFoundError can be wrapped", func(t *testing.T) {
		original := &stepflowerrors.NotFoundError{
			Resource: "execution",
			ID:       "test",
		}
		wrapped := fmt.Errorf("loading execution: %w", original)

		var target *stepflowerrors.NotFoundError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find NotFoundError in wrapped error")
		}
		if target.Resource != "execution" {
			t.Errorf("unwrapped error Resource = %q, want %q", target.Resource, "execution")
		}
	})
}

// Test errors.Is behavior
func TestErrorsIs(t *testing.T) {
	t.Run("errors.Is works with wrapped GraphError", func(t *testing.T) {
		original := &stepflowerrors.GraphError{Kind: stepflowerrors.KindDeadlock}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})

	t.Run("errors.Is works with wrapped StepNotFoundError", func(t *testing.T) {
		original := &stepflowerrors.StepNotFoundError{Type: "missing"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantType      string
		wantRetryable bool
	}{
		{
			name:          "graph error",
			err:           &stepflowerrors.GraphError{Kind: stepflowerrors.KindCycle},
			wantType:      "graph",
			wantRetryable: false,
		},
		{
			name:          "step not found",
			err:           &stepflowerrors.StepNotFoundError{Type: "x"},
			wantType:      "step_not_found",
			wantRetryable: false,
		},
		{
			name:          "step execution",
			err:           &stepflowerrors.StepExecutionError{NodeID: "n", StepType: "t", Cause: errors.New("x")},
			wantType:      "step_execution",
			wantRetryable: true,
		},
		{
			name:          "validation",
			err:           &stepflowerrors.ValidationError{Field: "f"},
			wantType:      "validation",
			wantRetryable: false,
		},
		{
			name:          "timeout",
			err:           &stepflowerrors.TimeoutError{Operation: "op", Duration: time.Second},
			wantType:      "timeout",
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier, ok := tt.err.(stepflowerrors.ErrorClassifier)
			if !ok {
				t.Fatalf("%T should implement ErrorClassifier", tt.err)
			}
			if got := classifier.ErrorType(); got != tt.wantType {
				t.Errorf("ErrorType() = %q, want %q", got, tt.wantType)
			}
			if got := classifier.IsRetryable(); got != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}
