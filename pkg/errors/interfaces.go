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

package errors

// UserVisibleError defines errors that should be displayed to end users
// with user-friendly messages and actionable suggestions.
//
// Domain-specific errors should implement this interface to integrate
// with CLI error formatting.
type UserVisibleError interface {
	error

	// IsUserVisible returns true if this error should be shown to users.
	// Internal errors or debugging details should return false.
	IsUserVisible() bool

	// UserMessage returns a user-friendly error message.
	// This should avoid technical jargon and implementation details.
	UserMessage() string

	// Suggestion returns actionable guidance for resolving the error.
	// Returns empty string if no suggestion is available.
	Suggestion() string
}

// ErrorClassifier defines methods for programmatic error handling.
// Errors that implement this interface can be classified by type
// for retry logic, error reporting, or specific handling paths.
type ErrorClassifier interface {
	error

	// ErrorType returns a string identifying the error category.
	// Examples: "graph", "validation", "step_execution", "timeout"
	ErrorType() string

	// IsRetryable returns true if the operation should be retried.
	IsRetryable() bool
}

// ErrorType implements ErrorClassifier. Graph errors are structural and
// never resolve on retry.
func (e *GraphError) ErrorType() string { return "graph" }

// IsRetryable implements ErrorClassifier.
func (e *GraphError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier. A missing registration never
// resolves on retry.
func (e *StepNotFoundError) ErrorType() string { return "step_not_found" }

// IsRetryable implements ErrorClassifier.
func (e *StepNotFoundError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier. Step failures may be transient,
// so retry policies apply.
func (e *StepExecutionError) ErrorType() string { return "step_execution" }

// IsRetryable implements ErrorClassifier.
func (e *StepExecutionError) IsRetryable() bool { return true }

// ErrorType implements ErrorClassifier. Invalid definitions never resolve
// on retry.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// Retryable reports whether err should be retried under a node retry
// policy. Errors that classify themselves decide; everything else is
// assumed transient.
func Retryable(err error) bool {
	var classifier ErrorClassifier
	if As(err, &classifier) {
		return classifier.IsRetryable()
	}
	return true
}
